package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"liuproxy_vless/internal/server"
	"liuproxy_vless/internal/shared/config"
	"liuproxy_vless/internal/shared/logger"
)

// version 可在链接时覆盖：go build -ldflags "-X main.version=1.2.0"
var version = "dev"

func main() {
	configPath := flag.StringP("config", "c", "configs/remote.ini", "Path to remote config file")
	logLevel := flag.String("log-level", "", "Override [log] level")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("vless-remote %s\n", version)
		return
	}

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config file '%s': %v", *configPath, err)
	}
	if *logLevel != "" {
		cfg.LogConf.Level = *logLevel
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.LogConf); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}

	// 3. 创建并运行服务器
	srv, err := server.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create tunnel server")
	}
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start tunnel server")
	}

	waitForSignal()
	if err := srv.Stop(); err != nil {
		logger.Error().Err(err).Msg("Tunnel server stopped with errors")
		os.Exit(1)
	}
}

func waitForSignal() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	logger.Info().Str("signal", sig.String()).Msg("Signal received, shutting down...")
}
