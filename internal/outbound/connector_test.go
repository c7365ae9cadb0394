package outbound

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liuproxy_vless/internal/protocol/vless"
	"liuproxy_vless/internal/shared/types"
)

func tcpRequest(t *testing.T, addr string) *vless.Request {
	t.Helper()
	ap := netip.MustParseAddrPort(addr)
	return &vless.Request{Command: vless.CommandTCP, Port: ap.Port(), Address: vless.IPAddress(ap.Addr())}
}

// startDNSServer 启动一个只回答 A 记录的本地 DNS 服务器
func startDNSServer(t *testing.T) (string, chan *dns.Msg) {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	seen := make(chan *dns.Msg, 16)
	server := &dns.Server{
		PacketConn: pc,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			seen <- r
			m := new(dns.Msg)
			m.SetReply(r)
			rr, _ := dns.NewRR(r.Question[0].Name + " 60 IN A 93.184.216.34")
			m.Answer = append(m.Answer, rr)
			_ = w.WriteMsg(m)
		}),
	}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })
	return pc.LocalAddr().String(), seen
}

func packQuery(t *testing.T, name string, id uint16) []byte {
	t.Helper()
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.Id = id
	raw, err := m.Pack()
	require.NoError(t, err)
	frame := make([]byte, 2+len(raw))
	binary.BigEndian.PutUint16(frame, uint16(len(raw)))
	copy(frame[2:], raw)
	return frame
}

func readFrame(t *testing.T, r io.Reader) *dns.Msg {
	t.Helper()
	var lenBuf [2]byte
	_, err := io.ReadFull(r, lenBuf[:])
	require.NoError(t, err)
	body := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	m := new(dns.Msg)
	require.NoError(t, m.Unpack(body))
	return m
}

func TestConnect_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan []byte, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 16)
		n, _ := c.Read(buf)
		accepted <- buf[:n]
	}()

	c := New(types.OutboundConf{DialTimeoutMs: 1000}, types.DNSConf{})
	conn, err := c.Connect(context.Background(), tcpRequest(t, ln.Addr().String()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	select {
	case got := <-accepted:
		assert.Equal(t, []byte("ping"), got)
	case <-time.After(2 * time.Second):
		t.Fatal("target did not receive data")
	}
}

func TestConnect_TCPRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := New(types.OutboundConf{DialTimeoutMs: 1000}, types.DNSConf{})
	_, err = c.Connect(context.Background(), tcpRequest(t, addr))
	assert.ErrorIs(t, err, vless.ErrOutboundConnect)
}

func TestConnect_UDPNonDNSRejected(t *testing.T) {
	c := New(types.OutboundConf{}, types.DNSConf{})
	req := &vless.Request{Command: vless.CommandUDP, Port: 443, Address: vless.DomainAddress("example.com")}
	_, err := c.Connect(context.Background(), req)
	assert.ErrorIs(t, err, vless.ErrUnsupportedUDPTarget)
}

func TestConnect_DNS(t *testing.T) {
	upstream, seen := startDNSServer(t)
	c := New(types.OutboundConf{}, types.DNSConf{Upstream: upstream, TimeoutMs: 2000})

	req := &vless.Request{Command: vless.CommandUDP, Port: 53, Address: vless.IPAddress(netip.MustParseAddr("127.0.0.1"))}
	conn, err := c.Connect(context.Background(), req)
	require.NoError(t, err)
	defer conn.Close()

	// 两个查询，第二个跨两次写入
	first := packQuery(t, "example.com", 0x1234)
	second := packQuery(t, "example.org", 0x5678)

	go func() {
		_, _ = conn.Write(first)
		_, _ = conn.Write(second[:5])
		_, _ = conn.Write(second[5:])
	}()

	resp := readFrame(t, conn)
	assert.Equal(t, uint16(0x1234), resp.Id)
	require.Len(t, resp.Answer, 1)
	assert.Equal(t, "93.184.216.34", resp.Answer[0].(*dns.A).A.String())

	resp = readFrame(t, conn)
	assert.Equal(t, uint16(0x5678), resp.Id)
	assert.Equal(t, "example.org.", resp.Question[0].Name)

	q := <-seen
	assert.Equal(t, "example.com.", q.Question[0].Name)
}

func TestDNSConn_ReadAfterCloseIsEOF(t *testing.T) {
	conn := NewDNSConn(context.Background(), &dns.Client{Net: "udp"}, "127.0.0.1:1")
	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err := conn.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)

	_, err = conn.Write([]byte{0, 1, 0})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestDNSConn_ForwardsExactBytesAndSkipsMalformed(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	received := make(chan []byte, 4)
	go func() {
		buf := make([]byte, 1500)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			pkt := append([]byte(nil), buf[:n]...)
			received <- pkt
			// 先回一个 ID 不匹配的报文，再回原报文
			stray := append([]byte(nil), pkt...)
			stray[0] ^= 0xff
			_, _ = pc.WriteTo(stray, addr)
			_, _ = pc.WriteTo(pkt, addr)
		}
	}()

	client := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
	conn := NewDNSConn(context.Background(), client, pc.LocalAddr().String())
	defer conn.Close()

	query := packQuery(t, "exact.example", 0x0102)
	go func() {
		_, _ = conn.Write([]byte{0, 3, 1, 2, 3})
		_, _ = conn.Write(query)
	}()

	select {
	case pkt := <-received:
		assert.Equal(t, query[2:], pkt)
	case <-time.After(3 * time.Second):
		t.Fatal("upstream saw no query")
	}

	var lenBuf [2]byte
	_, err = io.ReadFull(conn, lenBuf[:])
	require.NoError(t, err)
	body := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	assert.Equal(t, query[2:], body)
}
