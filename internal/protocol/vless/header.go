package vless

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	M "github.com/sagernet/sing/common/metadata"
)

// Command 是请求的传输方式
type Command byte

const (
	CommandTCP Command = 1
	CommandUDP Command = 2
)

func (c Command) String() string {
	switch c {
	case CommandTCP:
		return "tcp"
	case CommandUDP:
		return "udp"
	}
	return fmt.Sprintf("unknown(%d)", byte(c))
}

// MaxHeaderLen 是请求头可能的最大长度：
// version + uuid + addon len + addons + cmd + port + atyp + (domain len + domain)
const MaxHeaderLen = 1 + 16 + 1 + 255 + 1 + 2 + 1 + 1 + 255

/*
 * +---------+------------+-------+--------+-----+------+------+----------+
 * | version | credential | L     | addons | cmd | port | atyp | address  |
 * +---------+------------+-------+--------+-----+------+------+----------+
 * |    1    |     16     |   1   |   L    |  1  |  2   |  1   | variable |
 * +---------+------------+-------+--------+-----+------+------+----------+
 */

// Request 是解析后的请求头，每个连接只解析一次。
type Request struct {
	Version    byte
	Credential uuid.UUID
	// Addons 原样保留，不做解释
	Addons  []byte
	Command Command
	Port    uint16
	Address Address
	// PayloadOffset 是首个数据块中头部之后负载开始的位置
	PayloadOffset int
}

// Destination 返回 sing 的目标地址表示，供出站拨号使用。
func (r *Request) Destination() M.Socksaddr {
	switch r.Address.Type {
	case AddressIPv4, AddressIPv6:
		return M.SocksaddrFrom(r.Address.IP, r.Port)
	default:
		return M.ParseSocksaddrHostPort(r.Address.Domain, r.Port)
	}
}

// ParseRequest 解析 buf 开头的请求头。任何越界读取都返回 ErrTruncatedHeader，绝不返回部分结果。
func ParseRequest(buf []byte) (*Request, error) {
	r := &Request{}

	if len(buf) < 1+16+1 {
		return nil, fmt.Errorf("%w: %d bytes before addons", ErrTruncatedHeader, len(buf))
	}
	r.Version = buf[0]
	copy(r.Credential[:], buf[1:17])
	addonLen := int(buf[17])
	offset := 18

	if len(buf) < offset+addonLen {
		return nil, fmt.Errorf("%w: addons need %d bytes", ErrTruncatedHeader, addonLen)
	}
	if addonLen > 0 {
		r.Addons = append([]byte(nil), buf[offset:offset+addonLen]...)
	}
	offset += addonLen

	if len(buf) < offset+1 {
		return nil, fmt.Errorf("%w: missing command", ErrTruncatedHeader)
	}
	r.Command = Command(buf[offset])
	switch r.Command {
	case CommandTCP, CommandUDP:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedCommand, buf[offset])
	}
	if len(buf) < offset+1+2 {
		return nil, fmt.Errorf("%w: missing port", ErrTruncatedHeader)
	}
	r.Port = binary.BigEndian.Uint16(buf[offset+1 : offset+3])
	offset += 3

	addr, n, err := DecodeAddress(buf, offset)
	if err != nil {
		return nil, err
	}
	r.Address = addr
	r.PayloadOffset = offset + n
	return r, nil
}

// EncodeRequest 是 ParseRequest 的逆操作，客户端使用。
func EncodeRequest(r *Request) ([]byte, error) {
	if len(r.Addons) > 255 {
		return nil, fmt.Errorf("vless: addons too long: %d", len(r.Addons))
	}
	buf := make([]byte, 0, MaxHeaderLen)
	buf = append(buf, r.Version)
	buf = append(buf, r.Credential[:]...)
	buf = append(buf, byte(len(r.Addons)))
	buf = append(buf, r.Addons...)
	buf = append(buf, byte(r.Command))
	buf = binary.BigEndian.AppendUint16(buf, r.Port)
	return EncodeAddress(buf, r.Address)
}
