package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fieldmon/kismet-monitor/internal/config"
	"github.com/fieldmon/kismet-monitor/internal/monitor"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Command line flags
	var (
		configFile  string
		showVersion bool
	)
	flag.StringVar(&configFile, "config", "configs/monitor.yaml", "Configuration file path")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	// 配置未指定版本时使用编译版本
	if cfg.Server.Version == "" {
		cfg.Server.Version = version
	}

	setupLogging(cfg.Log)

	log.Info().
		Str("service", cfg.Server.Name).
		Str("version", cfg.Server.Version).
		Str("kismet", fmt.Sprintf("%s:%d", cfg.Kismet.Host, cfg.Kismet.Port)).
		Msg("Starting")

	m, err := monitor.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build monitor")
	}

	// 收到信号后取消 ctx，停止重连并关闭指示灯
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Monitor stopped with error")
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// json 格式直接写 stderr，不经过 ConsoleWriter
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}
