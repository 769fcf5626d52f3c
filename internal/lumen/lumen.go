package lumen

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"lumen/pkg/capture"
	"lumen/pkg/mjpeg"
	"lumen/pkg/rtsp"
)

// App owns the capture source and the two streaming frontends.
type App struct {
	config *Config
	source capture.Source
	rtsp   *rtsp.Server
	http   *mjpeg.Server

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewApp assembles the application from its configuration.
func NewApp(config *Config) *App {
	InitLogger(config)

	source := capture.NewPatternSource(
		config.Capture.Width,
		config.Capture.Height,
		config.Capture.Quality,
		config.Stream.FPS,
	)

	app := &App{
		config: config,
		source: source,
		rtsp:   rtsp.NewServer(config.RTSP.Port, config.RTSP.MaxSessions, config.RTSPStreamConfig(), source),
	}
	if config.HTTP.Enabled {
		app.http = mjpeg.NewServer(mjpeg.Config{
			Port:      config.HTTP.Port,
			Path:      config.HTTP.Path,
			FrameRate: config.Stream.FPS,
		}, source)
	}
	return app
}

// Start launches the servers. It returns immediately; failures surface
// through Stop.
func (a *App) Start() error {
	slog.Info("Starting Lumen",
		"rtspPort", a.config.RTSP.Port,
		"streamPath", a.config.RTSP.StreamPath,
		"fps", a.config.Stream.FPS,
		"timecodeMode", a.config.Stream.TimecodeMode)

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	group, ctx := errgroup.WithContext(ctx)
	a.group = group

	group.Go(func() error {
		return a.rtsp.Run(ctx)
	})
	if a.http != nil {
		group.Go(func() error {
			return a.http.Run(ctx)
		})
	}
	return nil
}

// Stop shuts both servers down and waits for them to finish.
func (a *App) Stop() {
	slog.Info("Stopping Lumen...")
	if a.cancel != nil {
		a.cancel()
	}
	if a.group != nil {
		if err := a.group.Wait(); err != nil && err != context.Canceled {
			slog.Error("Shutdown finished with error", "err", err)
		}
	}
	slog.Info("Lumen stopped")
}
