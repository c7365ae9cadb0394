package vless

import (
	"fmt"
	"net/netip"
	"unicode/utf8"
)

// AddressType 是头部中地址字段的类型标签。
type AddressType byte

const (
	AddressIPv4   AddressType = 1
	AddressDomain AddressType = 2
	AddressIPv6   AddressType = 3
)

func (t AddressType) String() string {
	switch t {
	case AddressIPv4:
		return "ipv4"
	case AddressDomain:
		return "domain"
	case AddressIPv6:
		return "ipv6"
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
}

// Address 是目标地址。Type 决定 IP 和 Domain 中哪一个有效。
type Address struct {
	Type   AddressType
	IP     netip.Addr
	Domain string
}

func IPAddress(ip netip.Addr) Address {
	if ip.Is4() {
		return Address{Type: AddressIPv4, IP: ip}
	}
	return Address{Type: AddressIPv6, IP: ip}
}

func DomainAddress(domain string) Address {
	return Address{Type: AddressDomain, Domain: domain}
}

// String 返回点分十进制、域名原文或规范的 IPv6 文本。
func (a Address) String() string {
	switch a.Type {
	case AddressIPv4, AddressIPv6:
		return a.IP.String()
	case AddressDomain:
		return a.Domain
	}
	return ""
}

// DecodeAddress 从 buf[offset] 处的类型标签开始解码，返回地址和消耗的字节数（含标签）。
// 未知标签返回 ErrMalformedAddress；长度不足时错误同时匹配 ErrMalformedAddress 和 ErrTruncatedHeader。
func DecodeAddress(buf []byte, offset int) (Address, int, error) {
	if offset < 0 || offset >= len(buf) {
		return Address{}, 0, fmt.Errorf("%w: %w: missing address type", ErrMalformedAddress, ErrTruncatedHeader)
	}
	tag := AddressType(buf[offset])
	body := buf[offset+1:]

	switch tag {
	case AddressIPv4:
		if len(body) < 4 {
			return Address{}, 0, shortAddress(tag, 4, len(body))
		}
		return Address{Type: AddressIPv4, IP: netip.AddrFrom4([4]byte(body[:4]))}, 1 + 4, nil

	case AddressDomain:
		if len(body) < 1 {
			return Address{}, 0, shortAddress(tag, 1, 0)
		}
		n := int(body[0])
		if n == 0 {
			return Address{}, 0, fmt.Errorf("%w: empty domain", ErrMalformedAddress)
		}
		if len(body) < 1+n {
			return Address{}, 0, shortAddress(tag, 1+n, len(body))
		}
		domain := body[1 : 1+n]
		if !utf8.Valid(domain) {
			return Address{}, 0, fmt.Errorf("%w: domain is not valid utf-8", ErrMalformedAddress)
		}
		return Address{Type: AddressDomain, Domain: string(domain)}, 1 + 1 + n, nil

	case AddressIPv6:
		if len(body) < 16 {
			return Address{}, 0, shortAddress(tag, 16, len(body))
		}
		return Address{Type: AddressIPv6, IP: netip.AddrFrom16([16]byte(body[:16]))}, 1 + 16, nil
	}

	return Address{}, 0, fmt.Errorf("%w: unknown address type %d", ErrMalformedAddress, byte(tag))
}

func shortAddress(tag AddressType, want, got int) error {
	return fmt.Errorf("%w: %w: %s needs %d bytes, have %d", ErrMalformedAddress, ErrTruncatedHeader, tag, want, got)
}

// EncodeAddress 把 a 编码后追加到 dst，是 DecodeAddress 的逆操作。
func EncodeAddress(dst []byte, a Address) ([]byte, error) {
	switch a.Type {
	case AddressIPv4:
		if !a.IP.Is4() {
			return dst, fmt.Errorf("%w: %s is not ipv4", ErrMalformedAddress, a.IP)
		}
		b := a.IP.As4()
		dst = append(dst, byte(AddressIPv4))
		return append(dst, b[:]...), nil

	case AddressDomain:
		if len(a.Domain) == 0 || len(a.Domain) > 255 {
			return dst, fmt.Errorf("%w: domain length %d", ErrMalformedAddress, len(a.Domain))
		}
		dst = append(dst, byte(AddressDomain), byte(len(a.Domain)))
		return append(dst, a.Domain...), nil

	case AddressIPv6:
		if !a.IP.IsValid() {
			return dst, fmt.Errorf("%w: invalid ipv6", ErrMalformedAddress)
		}
		b := a.IP.As16()
		dst = append(dst, byte(AddressIPv6))
		return append(dst, b[:]...), nil
	}
	return dst, fmt.Errorf("%w: unknown address type %d", ErrMalformedAddress, byte(a.Type))
}
