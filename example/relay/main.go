package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Zereker/msgsocket"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg := msgsocket.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = msgsocket.LoadConfig(*configPath); err != nil {
			slog.Error("failed to load config", "error", err.Error())
			os.Exit(1)
		}
	}
	if flag.NArg() > 0 {
		cfg.ListenAddress = flag.Arg(0)
	}

	server, err := msgsocket.Listen(cfg.ListenAddress, cfg.ServerOptions()...)
	if err != nil {
		slog.Error("failed to create server", "error", err.Error())
		os.Exit(1)
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	relay := msgsocket.NewRelay(slog.Default(), cfg.PeerOptions()...)
	if err := server.Serve(ctx, relay); err != nil && ctx.Err() == nil {
		slog.Error("server error", "error", err.Error())
	}
}
