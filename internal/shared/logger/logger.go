// Package logger 封装全局 zerolog 实例，提供与标准 log 类似的包级调用方式。
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"liuproxy_vless/internal/shared/types"
)

// Init 根据配置初始化全局 logger。可以重复调用，后一次覆盖前一次。
func Init(conf types.LogConf) error {
	level, err := parseLevel(conf.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if conf.File != "" {
		f, err := os.OpenFile(conf.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("logger: open %s: %w", conf.File, err)
		}
		out = f
	}

	if conf.Format == "" || conf.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05.000", NoColor: conf.File != ""}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

func parseLevel(s string) (zerolog.Level, error) {
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("logger: unknown level %q: %w", s, err)
	}
	return level, nil
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }

// With 返回一个以全局 logger 为父的子 logger 构造器
func With() zerolog.Context { return log.With() }

// WithContext 把全局 logger 放进 ctx
func WithContext(ctx context.Context) context.Context {
	return log.Logger.WithContext(ctx)
}

// Ctx 取出 ctx 中的 logger；ctx 中没有时回落到全局 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled || l == zerolog.DefaultContextLogger {
		return &log.Logger
	}
	return l
}
