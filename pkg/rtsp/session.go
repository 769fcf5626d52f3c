package rtsp

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"lumen/pkg/capture"
	"lumen/pkg/rtp"
	"lumen/pkg/timecode"
)

// SessionState represents the lifecycle state of a viewer session.
type SessionState int

const (
	StateInit SessionState = iota
	StateReady
	StatePlaying
	StatePaused
	StateTornDown
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateReady:
		return "Ready"
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	case StateTornDown:
		return "TornDown"
	default:
		return "Unknown"
	}
}

// deliveryOutcome is the result of one frame's delivery attempt.
type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeAbandoned
	outcomeFellBack
)

// StreamConfig carries the per-deployment stream parameters a session
// needs.
type StreamConfig struct {
	StreamPath string // control path of the video stream
	MJPEGPath  string // companion image-stream path, also a valid DESCRIBE target
	ServerName string
	Address    string // advertised server address

	FrameRate    int // nominal frames per second
	MinFrameRate int // adaptive-rate floor
	AdaptiveRate bool
	// ErrorThreshold is the transport-error count at which the adaptive
	// policy steps the frame rate down.
	ErrorThreshold   int
	RateAdjustPeriod time.Duration

	Quality       uint8
	Width, Height int // configured capture resolution, advertised as-is

	// PacketSizeUDP / PacketSizeInterleaved bound the total packet size
	// per transport; payload capacity is what remains after the framing
	// and fragmentation headers.
	PacketSizeUDP         int
	PacketSizeInterleaved int

	Policy   TransportPolicy
	Delivery DeliveryConfig

	Timecode      timecode.Options
	ClockMetadata bool
	MJPEGMetadata bool

	SessionTimeout time.Duration
}

// Session owns one viewer's protocol lifecycle: it parses requests,
// negotiates transport, and emits frames while playing. All state is
// mutated only from the manager's tick goroutine.
type Session struct {
	id     string
	conn   net.Conn
	writer *MessageWriter
	cfg    StreamConfig
	source capture.Source

	engine     *timecode.Engine
	packetizer *rtp.Packetizer
	cursor     rtp.SequenceCursor

	state       SessionState
	established bool
	transport   *TransportSpec
	udp         *udpSender

	currentFPS     int
	frameInterval  time.Duration
	lastEmit       time.Time
	lastRateAdjust time.Time

	requests   chan *Request
	connClosed bool
}

// NewSession creates a session in the Init state. The session token
// doubles as the protocol-level session identifier.
func NewSession(conn net.Conn, cfg StreamConfig, source capture.Source) *Session {
	s := &Session{
		id:            uuid.NewString(),
		conn:          conn,
		writer:        NewMessageWriter(conn),
		cfg:           cfg,
		source:        source,
		engine:        timecode.NewEngine(cfg.Timecode),
		packetizer:    rtp.NewPacketizer(cfg.Quality),
		state:         StateInit,
		currentFPS:    cfg.FrameRate,
		frameInterval: frameInterval(cfg.FrameRate),
		requests:      make(chan *Request, 4),
	}
	return s
}

// Start launches the request reader. The reader goroutine only parses
// bytes into the request channel; all handling happens on the tick.
func (s *Session) Start() {
	slog.Info("RTSP session created", "sessionId", s.id, "remoteAddr", s.conn.RemoteAddr())
	go s.readLoop()
}

// ID returns the session token.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return s.state
}

// Closed reports whether the session should be reaped by the manager.
func (s *Session) Closed() bool {
	return s.connClosed || s.state == StateTornDown
}

// Stop closes the connection and releases the session's transport
// endpoint.
func (s *Session) Stop() {
	s.state = StateTornDown
	if s.udp != nil {
		s.udp.Close()
		s.udp = nil
	}
	s.conn.Close()
	slog.Info("RTSP session stopped", "sessionId", s.id)
}

// readLoop feeds parsed requests to the tick goroutine. Closing the
// channel signals that the viewer's connection is gone.
func (s *Session) readLoop() {
	reader := NewMessageReader(s.conn)
	defer close(s.requests)
	for {
		request, err := reader.ReadRequest()
		if err != nil {
			return
		}
		s.requests <- request
	}
}

// poll runs one cooperative tick: queued requests first, then the
// frame-emission check.
func (s *Session) poll(now time.Time) {
	s.drainRequests()

	if s.state != StatePlaying {
		return
	}
	if s.connClosed {
		// Stop emitting; destruction is the manager's job.
		slog.Warn("Viewer disconnected during playback", "sessionId", s.id)
		s.state = StatePaused
		return
	}

	s.maybeAdjustRate(now)

	if now.Sub(s.lastEmit) < s.frameInterval {
		return
	}
	s.emitFrame()
	s.lastEmit = now
}

// drainRequests handles every request queued since the previous tick.
func (s *Session) drainRequests() {
	for {
		select {
		case request, ok := <-s.requests:
			if !ok {
				s.connClosed = true
				return
			}
			s.handleRequest(request)
		default:
			return
		}
	}
}

// handleRequest dispatches on the request method.
func (s *Session) handleRequest(req *Request) {
	slog.Debug("RTSP request received", "sessionId", s.id, "method", req.Method, "uri", req.URI, "cseq", req.CSeq)

	var err error
	switch req.Method {
	case MethodOptions:
		err = s.handleOptions(req)
	case MethodDescribe:
		err = s.handleDescribe(req)
	case MethodSetup:
		err = s.handleSetup(req)
	case MethodPlay:
		err = s.handlePlay(req)
	case MethodPause:
		err = s.handlePause(req)
	case MethodTeardown:
		err = s.handleTeardown(req)
	default:
		err = s.sendErrorResponse(req, StatusNotImplemented)
	}
	if err != nil {
		slog.Error("Failed to handle RTSP request", "sessionId", s.id, "method", req.Method, "err", err)
	}
}

// handleOptions replies with the supported method list.
func (s *Session) handleOptions(req *Request) error {
	response := s.newResponse(StatusOK, req)
	response.SetHeader(HeaderPublic, "OPTIONS, DESCRIBE, SETUP, PLAY, PAUSE, TEARDOWN")
	return s.writer.WriteResponse(response)
}

// handleDescribe returns a freshly generated session description for a
// known path.
func (s *Session) handleDescribe(req *Request) error {
	if !s.validPath(req) {
		return s.sendErrorResponse(req, StatusNotFound)
	}

	body, err := BuildSessionDescription(SDPInfo{
		Address:         s.cfg.Address,
		SessionName:     s.cfg.ServerName,
		StreamPath:      s.cfg.StreamPath,
		ClockRate:       s.cfg.Timecode.ClockRate,
		FrameRate:       s.currentFPS,
		Width:           s.cfg.Width,
		Height:          s.cfg.Height,
		Quality:         int(s.cfg.Quality),
		MaxFragmentSize: s.cfg.PacketSizeUDP,
		ClockMetadata:   s.cfg.ClockMetadata,
		MJPEGMetadata:   s.cfg.MJPEGMetadata,
	}, s.engine)
	if err != nil {
		return s.sendErrorResponse(req, StatusInternalServerError)
	}

	response := s.newResponse(StatusOK, req)
	response.SetBody("application/sdp", body)
	return s.writer.WriteResponse(response)
}

// handleSetup negotiates the transport and opens the media endpoint.
func (s *Session) handleSetup(req *Request) error {
	if s.state != StateInit {
		return s.sendErrorResponse(req, StatusMethodNotValidInThisState)
	}

	spec, err := ParseTransport(req.GetHeader(HeaderTransport), s.cfg.Policy)
	if err != nil {
		slog.Warn("SETUP transport rejected", "sessionId", s.id, "err", err)
		return s.sendErrorResponse(req, StatusBadRequest)
	}

	serverPort := 0
	if spec.Mode == ModeUDP {
		remoteIP := remoteIP(s.conn)
		sender, err := newUDPSender(remoteIP, spec.ClientRTPPort, s.cfg.Delivery)
		if err != nil {
			slog.Error("Media endpoint allocation failed", "sessionId", s.id, "err", err)
			return s.sendErrorResponse(req, StatusInternalServerError)
		}
		s.udp = sender
		serverPort = sender.LocalPort()
	}

	s.transport = spec
	s.established = true
	s.state = StateReady

	slog.Info("Transport negotiated", "sessionId", s.id, "mode", spec.Mode,
		"clientPorts", fmt.Sprintf("%d-%d", spec.ClientRTPPort, spec.ClientRTCPPort),
		"channels", fmt.Sprintf("%d-%d", spec.RTPChannel, spec.RTCPChannel))

	response := s.newResponse(StatusOK, req)
	response.SetHeader(HeaderTransport, spec.ResponseHeader(serverPort))
	response.SetHeader(HeaderSession, fmt.Sprintf("%s;timeout=%d", s.id, int(s.sessionTimeout().Seconds())))
	return s.writer.WriteResponse(response)
}

// handlePlay starts or resumes emission. Only the initial PLAY from
// Ready resets the stream cursors; resume from pause keeps them.
func (s *Session) handlePlay(req *Request) error {
	if !s.validPath(req) {
		return s.sendErrorResponse(req, StatusNotFound)
	}
	if s.state != StateReady && s.state != StatePaused {
		return s.sendErrorResponse(req, StatusMethodNotValidInThisState)
	}

	if s.state == StateReady {
		s.cursor.Reset()
		s.engine.ResetCounters()
		s.currentFPS = s.cfg.FrameRate
		s.frameInterval = frameInterval(s.currentFPS)
		if s.udp != nil {
			s.udp.ClearErrors()
		}
	}

	response := s.newResponse(StatusOK, req)
	response.SetHeader(HeaderRange, "npt=0.000-")
	response.SetHeader(HeaderRTPInfo, fmt.Sprintf("url=%s;seq=%d;rtptime=0", req.URI, s.cursor.Peek()))
	if err := s.writer.WriteResponse(response); err != nil {
		return err
	}

	s.state = StatePlaying
	now := time.Now()
	s.lastEmit = now.Add(-s.frameInterval) // first frame goes out on the next tick
	s.lastRateAdjust = now
	slog.Info("Playback started", "sessionId", s.id, "fps", s.currentFPS, "transport", s.transport.Mode)
	return nil
}

// handlePause suspends emission until the next PLAY.
func (s *Session) handlePause(req *Request) error {
	if s.state != StatePlaying {
		return s.sendErrorResponse(req, StatusMethodNotValidInThisState)
	}

	response := s.newResponse(StatusOK, req)
	if err := s.writer.WriteResponse(response); err != nil {
		return err
	}
	s.state = StatePaused
	slog.Info("Playback paused", "sessionId", s.id)
	return nil
}

// handleTeardown ends the session; the manager reaps it on the next
// tick.
func (s *Session) handleTeardown(req *Request) error {
	response := s.newResponse(StatusOK, req)
	err := s.writer.WriteResponse(response)

	s.state = StateTornDown
	s.conn.Close()
	slog.Info("Session torn down", "sessionId", s.id)
	return err
}

// sendErrorResponse sends a protocol error status; never fatal to the
// server.
func (s *Session) sendErrorResponse(req *Request, statusCode int) error {
	return s.writer.WriteResponse(s.newResponse(statusCode, req))
}

// newResponse builds a response echoing the request's
// sequence-correlation token and carrying the session identifier once
// the session is established.
func (s *Session) newResponse(statusCode int, req *Request) *Response {
	response := NewResponse(statusCode)
	response.SetCSeq(req.CSeq)
	response.SetHeader(HeaderServer, s.cfg.ServerName)
	if s.established {
		if _, exists := response.Headers[HeaderSession]; !exists {
			response.SetHeader(HeaderSession, s.id)
		}
	}
	return response
}

// validPath accepts the configured stream path and the companion
// image-stream path.
func (s *Session) validPath(req *Request) bool {
	p := req.Path()
	return p == s.cfg.StreamPath || p == s.cfg.MJPEGPath
}

// emitFrame runs one emission cycle: capture, stamp, packetize,
// deliver. The captured buffer is released on every exit path.
func (s *Session) emitFrame() {
	var frame *capture.Frame
	var err error
	if s.transport != nil && s.transport.Mode == ModeInterleaved {
		// Interleaved delivery paces itself on the emission timer alone.
		frame, err = s.source.CaptureNow()
	} else {
		frame, err = s.source.Capture()
	}
	if err != nil {
		if !errors.Is(err, capture.ErrNotReady) {
			slog.Debug("Capture failed, cycle abandoned", "sessionId", s.id, "err", err)
		}
		return
	}
	defer s.source.Release(frame)

	if len(frame.Data) == 0 {
		// Structural validation failed; no partial frame is ever sent.
		return
	}

	tc := s.engine.Next()
	outcome := s.deliverFrame(frame, tc)
	if outcome == outcomeAbandoned {
		slog.Debug("Frame delivery abandoned", "sessionId", s.id, "seq", s.cursor.Peek())
	}
}

// deliverFrame moves one packetized frame over the negotiated transport,
// migrating to the interleaved transport when connectionless delivery
// fails and the policy allows it.
func (s *Session) deliverFrame(frame *capture.Frame, tc timecode.Timecode) deliveryOutcome {
	sequence, err := s.packetizer.Packetize(frame, tc, &s.cursor, s.maxPayload())
	if err != nil {
		slog.Warn("Packetize failed", "sessionId", s.id, "err", err)
		return outcomeAbandoned
	}

	if s.transport.Mode == ModeInterleaved {
		return s.deliverInterleaved(sequence)
	}

	outcome := s.deliverUDP(sequence)
	if outcome != outcomeFellBack {
		return outcome
	}

	// Migrate, then re-send the frame that just failed over the new
	// transport before resuming normal flow.
	s.migrateToInterleaved()
	sequence, err = s.packetizer.Packetize(frame, tc, &s.cursor, s.maxPayload())
	if err != nil {
		return outcomeAbandoned
	}
	return s.deliverInterleaved(sequence)
}

// deliverUDP sends the sequence as unicast datagrams in offset order.
func (s *Session) deliverUDP(sequence *rtp.FrameSequence) deliveryOutcome {
	for packet := sequence.Next(); packet != nil; packet = sequence.Next() {
		data, err := packet.Marshal()
		if err != nil {
			return outcomeAbandoned
		}
		if err := s.udp.Send(data); err != nil {
			if s.cfg.Policy == PolicyFallback && !s.connClosed {
				slog.Info("Falling back to interleaved transport", "sessionId", s.id)
				return outcomeFellBack
			}
			return outcomeAbandoned
		}
	}
	return outcomeDelivered
}

// deliverInterleaved writes the sequence into the control connection.
func (s *Session) deliverInterleaved(sequence *rtp.FrameSequence) deliveryOutcome {
	sender := &interleavedSender{writer: s.writer, channel: s.transport.RTPChannel}
	for packet := sequence.Next(); packet != nil; packet = sequence.Next() {
		data, err := packet.Marshal()
		if err != nil {
			return outcomeAbandoned
		}
		if err := sender.Send(data); err != nil {
			slog.Warn("Interleaved delivery aborted", "sessionId", s.id, "err", err)
			return outcomeAbandoned
		}
	}
	return outcomeDelivered
}

// migrateToInterleaved switches the session to embedded delivery for all
// subsequent packets.
func (s *Session) migrateToInterleaved() {
	s.transport.Mode = ModeInterleaved
	s.transport.defaultChannels()
	if s.udp != nil {
		s.udp.Close()
		s.udp = nil
	}
}

// maybeAdjustRate trades frame rate for delivery reliability: repeated
// transport errors step the rate down toward the floor, a clean period
// steps it back toward nominal.
func (s *Session) maybeAdjustRate(now time.Time) {
	if !s.cfg.AdaptiveRate || s.udp == nil || s.transport.Mode != ModeUDP {
		return
	}
	if now.Sub(s.lastRateAdjust) < s.cfg.RateAdjustPeriod {
		return
	}
	s.lastRateAdjust = now

	errCount := s.udp.ErrorCount()
	switch {
	case errCount >= s.cfg.ErrorThreshold && s.currentFPS > s.cfg.MinFrameRate:
		s.currentFPS = max(s.cfg.MinFrameRate, s.currentFPS-2)
		s.frameInterval = frameInterval(s.currentFPS)
		slog.Info("Frame rate reduced", "sessionId", s.id, "fps", s.currentFPS, "errorCount", errCount)
	case errCount == 0 && s.currentFPS < s.cfg.FrameRate:
		s.currentFPS = min(s.cfg.FrameRate, s.currentFPS+1)
		s.frameInterval = frameInterval(s.currentFPS)
		slog.Info("Frame rate increased", "sessionId", s.id, "fps", s.currentFPS)
	}
}

// maxPayload returns the fragment capacity for the current transport
// mode: the packet size budget minus the framing and fragmentation
// headers.
func (s *Session) maxPayload() int {
	size := s.cfg.PacketSizeUDP
	if s.transport != nil && s.transport.Mode == ModeInterleaved {
		size = s.cfg.PacketSizeInterleaved
	}
	return size - rtp.HeaderSize - rtp.JPEGHeaderSize
}

// sessionTimeout returns the advertised session timeout.
func (s *Session) sessionTimeout() time.Duration {
	if s.cfg.SessionTimeout > 0 {
		return s.cfg.SessionTimeout
	}
	return 60 * time.Second
}

// frameInterval converts a frame rate to the emission interval.
func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = 1
	}
	return time.Second / time.Duration(fps)
}

// remoteIP extracts the viewer's address from the control connection.
func remoteIP(conn net.Conn) net.IP {
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	if host, _, err := net.SplitHostPort(conn.RemoteAddr().String()); err == nil {
		return net.ParseIP(host)
	}
	return net.IPv4(127, 0, 0, 1)
}
