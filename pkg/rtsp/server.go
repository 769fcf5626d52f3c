package rtsp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"lumen/pkg/capture"
)

// tickInterval paces the cooperative loop. Every session is polled once
// per tick; admission and reaping also happen on the tick.
const tickInterval = 10 * time.Millisecond

// Server accepts viewer connections and drives every session from a
// single polling goroutine. Session state is never touched from
// anywhere else.
type Server struct {
	port        int
	maxSessions int
	cfg         StreamConfig
	source      capture.Source

	listener net.Listener
	pending  chan net.Conn
	sessions map[string]*Session
}

// NewServer creates an RTSP server. The source is shared by all
// sessions.
func NewServer(port int, maxSessions int, cfg StreamConfig, source capture.Source) *Server {
	if maxSessions <= 0 {
		maxSessions = MaxSessions
	}
	return &Server{
		port:        port,
		maxSessions: maxSessions,
		cfg:         cfg,
		source:      source,
		pending:     make(chan net.Conn, maxSessions),
		sessions:    make(map[string]*Session),
	}
}

// Run listens for viewers and blocks in the polling loop until the
// context is canceled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("rtsp listen failed: %w", err)
	}
	s.listener = listener
	slog.Info("RTSP server started", "port", s.port, "maxSessions", s.maxSessions)

	go s.acceptLoop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// acceptLoop hands raw connections to the tick goroutine. Admission is
// not decided here; the queue is bounded so a burst past the ceiling
// backs up into the listener.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			close(s.pending)
			return
		}
		s.pending <- conn
	}
}

// Tick runs one cycle of the cooperative loop: admit pending viewers,
// poll every session, reap the closed ones.
func (s *Server) Tick(now time.Time) {
	s.admitPending()

	for id, session := range s.sessions {
		session.poll(now)
		if session.Closed() {
			session.Stop()
			delete(s.sessions, id)
			slog.Info("Session reaped", "sessionId", id, "active", len(s.sessions))
		}
	}
}

// admitPending promotes queued connections to sessions up to the
// ceiling. Connections beyond it are refused outright, never queued for
// later.
func (s *Server) admitPending() {
	for {
		select {
		case conn, ok := <-s.pending:
			if !ok {
				return
			}
			if len(s.sessions) >= s.maxSessions {
				slog.Warn("Session ceiling reached, connection refused",
					"remoteAddr", conn.RemoteAddr(), "active", len(s.sessions))
				conn.Close()
				continue
			}
			session := NewSession(conn, s.cfg, s.source)
			session.Start()
			s.sessions[session.ID()] = session
			slog.Info("Session admitted", "sessionId", session.ID(), "active", len(s.sessions))
		default:
			return
		}
	}
}

// SessionCount returns the number of active sessions.
func (s *Server) SessionCount() int {
	return len(s.sessions)
}

// shutdown stops the listener and every session.
func (s *Server) shutdown() {
	if s.listener != nil {
		s.listener.Close()
	}
	for id, session := range s.sessions {
		session.Stop()
		delete(s.sessions, id)
	}
	slog.Info("RTSP server stopped", "port", s.port)
}
