//go:build !linux

package outbound

import (
	"syscall"

	"liuproxy_vless/internal/shared/logger"
)

func markControl(mark int) func(network, address string, c syscall.RawConn) error {
	logger.Warn().Int("mark", mark).Msg("SO_MARK is only supported on linux, ignoring outbound mark")
	return nil
}
