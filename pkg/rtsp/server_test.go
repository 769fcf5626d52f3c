package rtsp

import (
	"io"
	"net"
	"testing"
	"time"

	"lumen/pkg/capture"
)

func TestAdmissionCeiling(t *testing.T) {
	source := capture.NewPatternSource(64, 48, 60, 15)
	server := NewServer(0, 5, testStreamConfig(), source)

	clients := make([]net.Conn, 0, 6)
	queue := func() net.Conn {
		serverEnd, clientEnd := net.Pipe()
		clients = append(clients, clientEnd)
		server.pending <- serverEnd
		return clientEnd
	}
	t.Cleanup(func() {
		for _, c := range clients {
			c.Close()
		}
	})

	for i := 0; i < 5; i++ {
		queue()
	}
	server.Tick(time.Now())

	if got := server.SessionCount(); got != 5 {
		t.Errorf("session count: got %d, want 5", got)
	}

	// The tick drained the queue, so the over-ceiling connection reaches
	// the admission check instead of parking in the channel.
	refused := queue()
	server.Tick(time.Now())

	if got := server.SessionCount(); got != 5 {
		t.Errorf("session count after refusal: got %d, want 5", got)
	}

	// The refused connection was closed outright, never queued.
	refused.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	if _, err := refused.Read(buf); err != io.EOF {
		t.Errorf("expected EOF on refused connection, got %v", err)
	}
}

func TestReapTornDownSessions(t *testing.T) {
	source := capture.NewPatternSource(64, 48, 60, 15)
	server := NewServer(0, 5, testStreamConfig(), source)

	serverEnd, clientEnd := net.Pipe()
	defer clientEnd.Close()
	server.pending <- serverEnd
	server.Tick(time.Now())

	if server.SessionCount() != 1 {
		t.Fatalf("session count: got %d, want 1", server.SessionCount())
	}

	for _, session := range server.sessions {
		session.state = StateTornDown
	}
	server.Tick(time.Now())

	if server.SessionCount() != 0 {
		t.Errorf("torn-down session not reaped: count %d", server.SessionCount())
	}

	// The freed slot is available again.
	serverEnd2, clientEnd2 := net.Pipe()
	defer clientEnd2.Close()
	server.pending <- serverEnd2
	server.Tick(time.Now())
	if server.SessionCount() != 1 {
		t.Errorf("slot not reusable after reap: count %d", server.SessionCount())
	}
}
