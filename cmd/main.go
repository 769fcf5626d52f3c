package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lumen/internal/lumen"
)

func main() {
	config, err := lumen.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	app := lumen.NewApp(config)
	if err := app.Start(); err != nil {
		slog.Error("Failed to start server", "err", err)
		os.Exit(1)
	}

	slog.Info("RTSP server started", "port", config.RTSP.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	slog.Info("Received signal, shutting down server", "signal", sig)

	app.Stop()
	slog.Info("Server shutdown complete")
}
