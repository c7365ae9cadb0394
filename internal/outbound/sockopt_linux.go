//go:build linux

package outbound

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// markControl 为出站 socket 设置 SO_MARK，配合策略路由避免回环。
func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		if err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark)
		}); err != nil {
			return err
		}
		return sockErr
	}
}
