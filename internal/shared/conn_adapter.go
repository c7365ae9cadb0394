package shared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader 是一个全局的 WebSocket 升级器实例
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ErrNonBinaryMessage 表示对端发来了文本帧
var ErrNonBinaryMessage = errors.New("received non-binary message from websocket")

// WebSocketConnAdapter 把 websocket.Conn 包装成按消息读取的传输，同时实现 net.Conn。
// ReadChunk 一次返回一条完整的二进制消息；Read 把消息拼成字节流，二者不要混用。
type WebSocketConnAdapter struct {
	*websocket.Conn
	readBuffer bytes.Buffer
	writeMu    sync.Mutex
	closeOnce  sync.Once
	closeErr   error
}

// NewWebSocketConnAdapterServer 端使用此函数来升级一个 HTTP 请求为 WebSocket 连接，并返回一个 net.Conn 兼容的适配器
func NewWebSocketConnAdapterServer(w http.ResponseWriter, r *http.Request) (*WebSocketConnAdapter, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocketConnAdapter{Conn: ws}, nil
}

// NewWebSocketConnAdapterClient 端使用此函数来连接一个 WebSocket 服务器，并返回一个 net.Conn 兼容的适配器
func NewWebSocketConnAdapterClient(ctx context.Context, urlStr string) (*WebSocketConnAdapter, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, urlStr, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocketConnAdapter{Conn: ws}, nil
}

// ReadChunk 读取下一条二进制消息。对端正常关闭时返回 io.EOF。
func (wsc *WebSocketConnAdapter) ReadChunk() ([]byte, error) {
	msgType, msg, err := wsc.Conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return nil, io.EOF
		}
		return nil, err
	}
	if msgType != websocket.BinaryMessage {
		return nil, ErrNonBinaryMessage
	}
	return msg, nil
}

// Read 方法实现了 io.Reader 接口。
func (wsc *WebSocketConnAdapter) Read(b []byte) (int, error) {
	if wsc.readBuffer.Len() == 0 {
		msg, err := wsc.ReadChunk()
		if err != nil {
			return 0, err
		}
		wsc.readBuffer.Write(msg)
	}
	return wsc.readBuffer.Read(b)
}

// Write 把 b 作为一条二进制消息发出。
func (wsc *WebSocketConnAdapter) Write(b []byte) (int, error) {
	wsc.writeMu.Lock()
	defer wsc.writeMu.Unlock()
	if err := wsc.Conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// CloseGracefully 先发送 close 帧再关闭底层连接，客户端使用。
func (wsc *WebSocketConnAdapter) CloseGracefully() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	wsc.writeMu.Lock()
	err := wsc.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	wsc.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return errors.Join(fmt.Errorf("send close frame: %w", err), wsc.Close())
	}
	return wsc.Close()
}

// Close 实现了 io.Closer 接口，可重复调用。
func (wsc *WebSocketConnAdapter) Close() error {
	wsc.closeOnce.Do(func() {
		wsc.closeErr = wsc.Conn.Close()
	})
	return wsc.closeErr
}

// LocalAddr 实现了 net.Conn 接口。
func (wsc *WebSocketConnAdapter) LocalAddr() net.Addr {
	return wsc.Conn.LocalAddr()
}

// RemoteAddr 实现了 net.Conn 接口。
func (wsc *WebSocketConnAdapter) RemoteAddr() net.Addr {
	return wsc.Conn.RemoteAddr()
}

// SetDeadline 实现了 net.Conn 接口。
func (wsc *WebSocketConnAdapter) SetDeadline(t time.Time) error {
	_ = wsc.Conn.SetReadDeadline(t)
	return wsc.Conn.SetWriteDeadline(t)
}

// SetReadDeadline 实现了 net.Conn 接口。
func (wsc *WebSocketConnAdapter) SetReadDeadline(t time.Time) error {
	return wsc.Conn.SetReadDeadline(t)
}

// SetWriteDeadline 实现了 net.Conn 接口。
func (wsc *WebSocketConnAdapter) SetWriteDeadline(t time.Time) error {
	return wsc.Conn.SetWriteDeadline(t)
}
