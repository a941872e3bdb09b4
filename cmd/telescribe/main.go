package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/telescribe/telescribe/pkg/telescribe"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := telescribe.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := telescribe.NewEngine(ctx, cfg)
	if err != nil {
		slog.Error("engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	if err := engine.Run(ctx); err != nil {
		slog.Error("engine exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
