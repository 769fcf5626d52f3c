package mjpeg

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"lumen/pkg/capture"
)

// Config carries the HTTP streaming parameters.
type Config struct {
	Port      int
	Path      string // multipart stream endpoint
	FrameRate int
}

// Server exposes the capture source over plain HTTP for viewers that
// speak neither RTSP nor RTP: a multipart JPEG stream and a websocket
// push channel.
type Server struct {
	cfg      Config
	source   capture.Source
	upgrader websocket.Upgrader
	srv      *http.Server
}

// NewServer creates an HTTP MJPEG server sharing the given source.
func NewServer(cfg Config, source capture.Source) *Server {
	if cfg.Path == "" {
		cfg.Path = "/mjpeg"
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 15
	}
	return &Server{
		cfg:    cfg,
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Run serves until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(s.cfg.Path, s.handleStream)
	router.GET("/ws", s.handleWebsocket)
	router.GET("/health", s.handleHealth)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.srv.ListenAndServe()
	}()
	slog.Info("HTTP MJPEG server started", "port", s.cfg.Port, "path", s.cfg.Path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http serve failed: %w", err)
		}
		return nil
	}
}

// handleStream serves a multipart/x-mixed-replace JPEG stream.
func (s *Server) handleStream(c *gin.Context) {
	const boundary = "frame"
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "close")

	interval := time.Second / time.Duration(s.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("HTTP viewer connected", "remoteAddr", c.ClientIP())
	for {
		select {
		case <-c.Request.Context().Done():
			slog.Info("HTTP viewer disconnected", "remoteAddr", c.ClientIP())
			return
		case <-ticker.C:
			frame, err := s.source.CaptureNow()
			if err != nil {
				continue
			}
			_, err = fmt.Fprintf(c.Writer,
				"--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
				boundary, len(frame.Data))
			if err == nil {
				_, err = c.Writer.Write(frame.Data)
			}
			if err == nil {
				_, err = c.Writer.Write([]byte("\r\n"))
			}
			s.source.Release(frame)
			if err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// handleWebsocket pushes binary JPEG frames over a websocket.
func (s *Server) handleWebsocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "remoteAddr", c.ClientIP(), "err", err)
		return
	}
	defer conn.Close()

	interval := time.Second / time.Duration(s.cfg.FrameRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Websocket viewer connected", "remoteAddr", c.ClientIP())
	for range ticker.C {
		frame, err := s.source.CaptureNow()
		if err != nil {
			continue
		}
		err = conn.WriteMessage(websocket.BinaryMessage, frame.Data)
		s.source.Release(frame)
		if err != nil {
			slog.Info("Websocket viewer disconnected", "remoteAddr", c.ClientIP())
			return
		}
	}
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
