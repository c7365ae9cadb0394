// tester 通过 WebSocket 连接到隧道服务器，发送一个 VLESS 请求并打印返回的数据。
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"golang.org/x/net/dns/dnsmessage"

	"liuproxy_vless/internal/protocol/vless"
	"liuproxy_vless/internal/shared"
	"liuproxy_vless/internal/shared/logger"
	"liuproxy_vless/internal/shared/types"
)

func main() {
	serverURL := flag.StringP("url", "u", "ws://127.0.0.1:8080/vless", "Tunnel WebSocket URL")
	id := flag.String("uuid", os.Getenv("VLESS_UUID"), "Client UUID")
	target := flag.StringP("target", "t", "example.com:80", "Destination host:port for TCP mode")
	payload := flag.StringP("data", "d", "HEAD / HTTP/1.0\r\nHost: example.com\r\n\r\n", "Payload sent after the header (TCP mode)")
	dnsName := flag.String("dns", "", "Send an A query for this name over UDP/53 instead of TCP")
	resolver := flag.String("resolver", "8.8.8.8", "DNS server address used with --dns")
	timeout := flag.Duration("timeout", 10*time.Second, "Overall timeout")
	flag.Parse()

	if err := logger.Init(types.LogConf{Level: "debug", Format: "console"}); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}

	cred, err := uuid.Parse(*id)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid --uuid")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := shared.NewWebSocketConnAdapterClient(ctx, *serverURL)
	if err != nil {
		logger.Fatal().Err(err).Str("url", *serverURL).Msg("Failed to connect to tunnel server")
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if *dnsName != "" {
		err = runDNS(conn, cred, *resolver, *dnsName)
	} else {
		err = runTCP(conn, cred, *target, []byte(*payload))
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("Test failed")
	}
	logger.Info().Msg("--- Tester finished ---")
}

func buildRequest(cred uuid.UUID, cmd vless.Command, hostPort string) ([]byte, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	addr := vless.DomainAddress(host)
	if ip, err := netip.ParseAddr(host); err == nil {
		addr = vless.IPAddress(ip)
	}
	return vless.EncodeRequest(&vless.Request{
		Credential: cred,
		Command:    cmd,
		Port:       uint16(port),
		Address:    addr,
	})
}

// readResponse 读取两字节应答，返回同一消息中剩余的数据
func readResponse(conn *shared.WebSocketConnAdapter) ([]byte, error) {
	msg, err := conn.ReadChunk()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(msg) < vless.ResponseLen {
		return nil, fmt.Errorf("short response: %x", msg)
	}
	logger.Info().Hex("response", msg[:vless.ResponseLen]).Msg("Tunnel accepted request")
	return msg[vless.ResponseLen:], nil
}

func runTCP(conn *shared.WebSocketConnAdapter, cred uuid.UUID, target string, payload []byte) error {
	req, err := buildRequest(cred, vless.CommandTCP, target)
	if err != nil {
		return err
	}
	if _, err := conn.Write(append(req, payload...)); err != nil {
		return err
	}
	rest, err := readResponse(conn)
	if err != nil {
		return err
	}
	os.Stdout.Write(rest)

	for {
		msg, err := conn.ReadChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil
			}
			return err
		}
		os.Stdout.Write(msg)
	}
}

func runDNS(conn *shared.WebSocketConnAdapter, cred uuid.UUID, resolver, name string) error {
	query, err := buildQuery(name)
	if err != nil {
		return err
	}
	req, err := buildRequest(cred, vless.CommandUDP, net.JoinHostPort(resolver, "53"))
	if err != nil {
		return err
	}
	req = binary.BigEndian.AppendUint16(req, uint16(len(query)))
	if _, err := conn.Write(append(req, query...)); err != nil {
		return err
	}

	buf, err := readResponse(conn)
	if err != nil {
		return err
	}
	for len(buf) < 2 || len(buf) < 2+int(binary.BigEndian.Uint16(buf)) {
		msg, err := conn.ReadChunk()
		if err != nil {
			return fmt.Errorf("read dns frame: %w", err)
		}
		buf = append(buf, msg...)
	}
	size := int(binary.BigEndian.Uint16(buf))

	var p dnsmessage.Parser
	if _, err := p.Start(buf[2 : 2+size]); err != nil {
		return fmt.Errorf("parse dns reply: %w", err)
	}
	if err := p.SkipAllQuestions(); err != nil {
		return err
	}
	for {
		h, err := p.AnswerHeader()
		if errors.Is(err, dnsmessage.ErrSectionDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if h.Type != dnsmessage.TypeA {
			if err := p.SkipAnswer(); err != nil {
				return err
			}
			continue
		}
		a, err := p.AResource()
		if err != nil {
			return err
		}
		fmt.Printf("%s\tA\t%s\n", h.Name, netip.AddrFrom4(a.A))
	}
}

func buildQuery(name string) ([]byte, error) {
	if !strings.HasSuffix(name, ".") {
		name += "."
	}
	n, err := dnsmessage.NewName(name)
	if err != nil {
		return nil, err
	}
	msg := dnsmessage.Message{
		Header:    dnsmessage.Header{ID: uint16(time.Now().UnixNano()), RecursionDesired: true},
		Questions: []dnsmessage.Question{{Name: n, Type: dnsmessage.TypeA, Class: dnsmessage.ClassINET}},
	}
	return msg.Pack()
}
