package rtsp

// RTSP Methods
const (
	MethodOptions  = "OPTIONS"
	MethodDescribe = "DESCRIBE"
	MethodSetup    = "SETUP"
	MethodPlay     = "PLAY"
	MethodPause    = "PAUSE"
	MethodTeardown = "TEARDOWN"
)

// RTSP Status Codes
const (
	StatusOK                        = 200
	StatusBadRequest                = 400
	StatusNotFound                  = 404
	StatusMethodNotValidInThisState = 455
	StatusUnsupportedTransport      = 461
	StatusInternalServerError       = 500
	StatusNotImplemented            = 501
)

// RTSP Headers
const (
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
	HeaderCSeq          = "CSeq"
	HeaderPublic        = "Public"
	HeaderRange         = "Range"
	HeaderRTPInfo       = "RTP-Info"
	HeaderSession       = "Session"
	HeaderServer        = "Server"
	HeaderTransport     = "Transport"
)

// Transport Protocols
const (
	TransportRTPUDP  = "RTP/AVP"
	TransportRTPTCP  = "RTP/AVP/TCP"
	TransportUnicast = "unicast"
)

// RTSP Version
const RTSPVersion = "RTSP/1.0"

// Default Values
const (
	// DefaultCSeq is echoed when a request carries no CSeq header.
	DefaultCSeq = 1
	// DefaultServerName identifies the server in response headers.
	DefaultServerName = "Lumen-RTSP/1.0"
	// MaxSessions is the concurrency ceiling; connections beyond it are
	// refused and closed without queuing.
	MaxSessions = 5
)
