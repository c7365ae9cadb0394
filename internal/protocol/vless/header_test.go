package vless

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testID = uuid.MustParse("8d4a8f38-2d9c-4e3d-b35e-90c01872c61d")

func buildHeader(t *testing.T, r *Request) []byte {
	t.Helper()
	raw, err := EncodeRequest(r)
	require.NoError(t, err)
	return raw
}

func TestParseRequest_TCPIPv4WithPayload(t *testing.T) {
	header := buildHeader(t, &Request{
		Version:    0,
		Credential: testID,
		Command:    CommandTCP,
		Port:       80,
		Address:    IPAddress(netip.MustParseAddr("93.184.216.34")),
	})
	payload := []byte("GET / \r\n")
	chunk := append(append([]byte(nil), header...), payload...)

	req, err := ParseRequest(chunk)
	require.NoError(t, err)
	assert.Equal(t, byte(0), req.Version)
	assert.Equal(t, testID, req.Credential)
	assert.Equal(t, CommandTCP, req.Command)
	assert.Equal(t, uint16(80), req.Port)
	assert.Equal(t, "93.184.216.34", req.Address.String())
	assert.Equal(t, len(header), req.PayloadOffset)
	assert.Equal(t, payload, chunk[req.PayloadOffset:])
	assert.Equal(t, "93.184.216.34:80", req.Destination().String())
}

func TestParseRequest_SkipsAddons(t *testing.T) {
	addons := []byte{0x0a, 0x03, 'x', 'y', 'z', 0x99}
	header := buildHeader(t, &Request{
		Version:    1,
		Credential: testID,
		Addons:     addons,
		Command:    CommandUDP,
		Port:       53,
		Address:    DomainAddress("dns.google"),
	})

	req, err := ParseRequest(header)
	require.NoError(t, err)
	assert.Equal(t, addons, req.Addons)
	assert.Equal(t, CommandUDP, req.Command)
	assert.Equal(t, "dns.google", req.Address.String())
	assert.Equal(t, len(header), req.PayloadOffset)
	assert.Equal(t, "dns.google:53", req.Destination().String())
}

func TestParseRequest_TruncatedAtEveryBoundary(t *testing.T) {
	for name, addr := range sampleAddresses() {
		header := buildHeader(t, &Request{
			Credential: testID,
			Addons:     []byte{1, 2, 3},
			Command:    CommandTCP,
			Port:       443,
			Address:    addr,
		})
		for cut := 0; cut < len(header); cut++ {
			req, err := ParseRequest(header[:cut])
			require.Nil(t, req, "%s cut=%d", name, cut)
			require.ErrorIs(t, err, ErrTruncatedHeader, "%s cut=%d", name, cut)
		}
	}
}

func TestParseRequest_UnsupportedCommand(t *testing.T) {
	header := buildHeader(t, &Request{Credential: testID, Command: CommandTCP, Port: 80, Address: DomainAddress("a.b")})
	header[18] = 3

	_, err := ParseRequest(header)
	assert.ErrorIs(t, err, ErrUnsupportedCommand)

	// 命令字节之后即结束，仍然先报告命令不支持
	_, err = ParseRequest(header[:19])
	assert.ErrorIs(t, err, ErrUnsupportedCommand)
	assert.NotErrorIs(t, err, ErrTruncatedHeader)

	// 合法命令但缺少端口
	header[18] = byte(CommandTCP)
	_, err = ParseRequest(header[:20])
	assert.ErrorIs(t, err, ErrTruncatedHeader)
}

func TestParseRequest_UndefinedAddressType(t *testing.T) {
	header := buildHeader(t, &Request{Credential: testID, Command: CommandTCP, Port: 80, Address: IPAddress(netip.MustParseAddr("1.2.3.4"))})
	header[21] = 4

	req, err := ParseRequest(header)
	assert.Nil(t, req)
	assert.ErrorIs(t, err, ErrMalformedAddress)
	assert.False(t, errors.Is(err, ErrTruncatedHeader))
}

func TestEncodeRequest_Layout(t *testing.T) {
	header := buildHeader(t, &Request{
		Version:    0,
		Credential: testID,
		Command:    CommandTCP,
		Port:       0x1bb,
		Address:    IPAddress(netip.MustParseAddr("10.0.0.1")),
	})
	require.Len(t, header, 1+16+1+1+2+1+4)
	assert.Equal(t, testID[:], header[1:17])
	assert.Equal(t, byte(0), header[17])
	assert.Equal(t, byte(CommandTCP), header[18])
	assert.Equal(t, []byte{0x01, 0xbb}, header[19:21])
	assert.Equal(t, byte(AddressIPv4), header[21])
	assert.Equal(t, []byte{10, 0, 0, 1}, header[22:26])
}
