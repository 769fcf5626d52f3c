package rtsp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"time"
)

// TransportMode selects how media packets reach the viewer.
type TransportMode int

const (
	// ModeUDP sends each packet as a standalone unicast datagram.
	ModeUDP TransportMode = iota
	// ModeInterleaved embeds packets in the control connection, tagged
	// with a channel number.
	ModeInterleaved
)

// String returns the string representation of the transport mode.
func (m TransportMode) String() string {
	switch m {
	case ModeUDP:
		return "udp"
	case ModeInterleaved:
		return "interleaved"
	default:
		return "unknown"
	}
}

// TransportPolicy is the deployment-wide stance on transport selection.
type TransportPolicy int

const (
	// PolicyUDPOnly disables the fallback migration; failed frames stay
	// on the connectionless path.
	PolicyUDPOnly TransportPolicy = iota
	// PolicyFallback allows migration to the interleaved transport after
	// connectionless retries are exhausted.
	PolicyFallback
	// PolicyForceInterleaved adopts the interleaved transport regardless
	// of what the viewer requests.
	PolicyForceInterleaved
)

// TransportSpec is the negotiated transport for one session.
type TransportSpec struct {
	Mode           TransportMode
	ClientRTPPort  int
	ClientRTCPPort int
	RTPChannel     uint8
	RTCPChannel    uint8
}

// defaultChannels fills in the interleave channel numbers used when the
// viewer proposes none.
func (t *TransportSpec) defaultChannels() {
	t.RTPChannel = 0
	t.RTCPChannel = 1
}

// ParseTransport interprets a SETUP Transport header. An empty header is
// malformed. The interleaved mode is adopted when the viewer asks for it
// or when the policy forces it; otherwise the viewer's two remote ports
// are required and must be non-zero.
func ParseTransport(header string, policy TransportPolicy) (*TransportSpec, error) {
	if strings.TrimSpace(header) == "" {
		return nil, fmt.Errorf("transport header missing")
	}

	spec := &TransportSpec{}
	wantsInterleaved := strings.Contains(header, "interleaved") || strings.Contains(header, TransportRTPTCP)

	if wantsInterleaved || policy == PolicyForceInterleaved {
		spec.Mode = ModeInterleaved
		spec.defaultChannels()
		if ch, ok := findParam(header, "interleaved="); ok {
			lo, hi, err := parsePortPair(ch)
			if err == nil && lo <= 255 && hi <= 255 {
				spec.RTPChannel = uint8(lo)
				spec.RTCPChannel = uint8(hi)
			}
		}
		return spec, nil
	}

	spec.Mode = ModeUDP
	ports, ok := findParam(header, "client_port=")
	if !ok {
		return nil, fmt.Errorf("client_port missing for unicast transport")
	}
	lo, hi, err := parsePortPair(ports)
	if err != nil {
		return nil, fmt.Errorf("malformed client_port %q: %w", ports, err)
	}
	if lo == 0 || hi == 0 {
		return nil, fmt.Errorf("invalid client ports %d-%d", lo, hi)
	}
	spec.ClientRTPPort = lo
	spec.ClientRTCPPort = hi
	return spec, nil
}

// ResponseHeader builds the Transport header returned on a successful
// SETUP. serverRTPPort is ignored in interleaved mode.
func (t *TransportSpec) ResponseHeader(serverRTPPort int) string {
	if t.Mode == ModeInterleaved {
		return fmt.Sprintf("%s;%s;interleaved=%d-%d", TransportRTPTCP, TransportUnicast, t.RTPChannel, t.RTCPChannel)
	}
	return fmt.Sprintf("%s;%s;client_port=%d-%d;server_port=%d-%d",
		TransportRTPUDP, TransportUnicast, t.ClientRTPPort, t.ClientRTCPPort, serverRTPPort, serverRTPPort+1)
}

// findParam extracts the value of a key=value parameter from a
// semicolon-separated transport header.
func findParam(header, prefix string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, prefix) {
			return strings.TrimSuffix(strings.TrimPrefix(part, prefix), "\r"), true
		}
	}
	return "", false
}

// parsePortPair parses "a-b" into two integers; a bare "a" yields a and
// a+1.
func parsePortPair(s string) (int, int, error) {
	dash := strings.Index(s, "-")
	if dash == -1 {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return 0, 0, err
		}
		return v, v + 1, nil
	}
	lo, err := strconv.Atoi(strings.TrimSpace(s[:dash]))
	if err != nil {
		return 0, 0, err
	}
	hi, err := strconv.Atoi(strings.TrimSpace(s[dash+1:]))
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// DeliveryConfig tunes per-packet retry and endpoint reset behavior on
// the connectionless path.
type DeliveryConfig struct {
	MaxRetries     int           // send attempts per packet
	RetryDelay     time.Duration // pause between attempts
	ResetThreshold int           // consecutive packet failures before an endpoint reset
	ResetDelay     time.Duration // cooldown during endpoint reset
}

// DefaultDeliveryConfig mirrors the deployment defaults: two attempts per
// packet, 10ms between them, endpoint reset after 10 failed packets.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		MaxRetries:     2,
		RetryDelay:     10 * time.Millisecond,
		ResetThreshold: 10,
		ResetDelay:     5 * time.Second,
	}
}

// udpSender owns one session's connectionless endpoint.
type udpSender struct {
	cfg        DeliveryConfig
	remote     *net.UDPAddr
	conn       *net.UDPConn
	localPort  int
	errorCount int
}

// newUDPSender opens a local endpoint on a randomly chosen port and
// binds the viewer's remote address.
func newUDPSender(remoteIP net.IP, remotePort int, cfg DeliveryConfig) (*udpSender, error) {
	s := &udpSender{
		cfg:    cfg,
		remote: &net.UDPAddr{IP: remoteIP, Port: remotePort},
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// open binds a fresh local endpoint. Ports are drawn from 20000-29999; a
// collision is retried on another draw.
func (s *udpSender) open() error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		port := 20000 + rand.Intn(10000)
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
		if err != nil {
			lastErr = err
			continue
		}
		s.conn = conn
		s.localPort = port
		return nil
	}
	return fmt.Errorf("failed to open media endpoint: %w", lastErr)
}

// Send moves one packet to the viewer with bounded retry. Exhausting the
// retries counts against the error threshold; reaching the threshold
// tears down and reopens the endpoint after a cooldown and clears the
// counter.
func (s *udpSender) Send(data []byte) error {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(s.cfg.RetryDelay)
		}
		if _, err := s.conn.WriteToUDP(data, s.remote); err != nil {
			lastErr = err
			continue
		}
		// A success pays down the error count gradually rather than
		// clearing it, so a flapping link still trips the reset.
		if s.errorCount > 0 {
			s.errorCount--
		}
		return nil
	}

	s.errorCount++
	slog.Warn("Media packet send failed", "remote", s.remote, "errorCount", s.errorCount, "err", lastErr)

	if s.errorCount >= s.cfg.ResetThreshold {
		s.reset()
	}
	return fmt.Errorf("send failed after %d attempts: %w", s.cfg.MaxRetries, lastErr)
}

// reset tears down and reopens the local endpoint, clearing the error
// counter. The cooldown gives the network stack time to settle.
func (s *udpSender) reset() {
	slog.Info("Resetting media endpoint", "localPort", s.localPort, "errorCount", s.errorCount)
	if s.conn != nil {
		s.conn.Close()
	}
	if s.cfg.ResetDelay > 0 {
		time.Sleep(s.cfg.ResetDelay)
	}
	s.errorCount = 0
	if err := s.open(); err != nil {
		slog.Error("Media endpoint reset failed", "err", err)
	}
}

// ErrorCount reports the consecutive-failure count used by the adaptive
// rate policy.
func (s *udpSender) ErrorCount() int {
	return s.errorCount
}

// ClearErrors zeroes the failure count. Done when playback (re)starts.
func (s *udpSender) ClearErrors() {
	s.errorCount = 0
}

// LocalPort returns the port of the local media endpoint.
func (s *udpSender) LocalPort() int {
	return s.localPort
}

// Close releases the local endpoint.
func (s *udpSender) Close() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// interleavedSender writes media packets into the control connection.
type interleavedSender struct {
	writer  *MessageWriter
	channel uint8
}

// Send writes the channel marker and packet bytes. A transient failure
// is retried once; a dead connection aborts the frame immediately.
func (s *interleavedSender) Send(data []byte) error {
	err := s.writer.WriteInterleaved(s.channel, data)
	if err == nil {
		return nil
	}
	if isConnClosed(err) {
		return fmt.Errorf("interleaved write failed: %w", err)
	}
	s.writer.Reset()
	if err = s.writer.WriteInterleaved(s.channel, data); err != nil {
		return fmt.Errorf("interleaved write failed: %w", err)
	}
	return nil
}

// isConnClosed reports whether the error means the connection is gone,
// making a retry pointless.
func isConnClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
