package rtsp

import (
	"fmt"
	"strconv"

	"github.com/pion/sdp/v3"

	"lumen/pkg/rtp"
	"lumen/pkg/timecode"
)

// SDPInfo carries the stream parameters advertised in the session
// description.
type SDPInfo struct {
	Address         string // server address for the origin/connection lines
	SessionName     string
	StreamPath      string // control path of the video stream
	ClockRate       uint32
	FrameRate       int // must equal the actual emission rate
	Width           int // actual configured capture width
	Height          int // actual configured capture height
	Quality         int
	MaxFragmentSize int
	ClockMetadata   bool // emit clock/wallclock/sync attribute block
	MJPEGMetadata   bool // emit quality/dimension/segmentation hints
}

// BuildSessionDescription generates the session description returned on
// DESCRIBE. It is rebuilt on every request because it embeds the current
// wall-clock offset of the session's clock engine.
func BuildSessionDescription(info SDPInfo, eng *timecode.Engine) ([]byte, error) {
	wallClock := uint64(eng.WallClockMs())

	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      wallClock,
			SessionVersion: wallClock,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: info.Address,
		},
		SessionName:        sdp.SessionName(info.SessionName),
		SessionInformation: sessionInformation("MJPEG video stream"),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: info.Address},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("control", "*"),
			sdp.NewAttribute("type", "broadcast"),
			sdp.NewAttribute("range", "npt=0-"),
		},
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "video",
			Port:    sdp.RangedPort{Value: 0},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(rtp.PayloadTypeJPEG)},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d JPEG/%d", rtp.PayloadTypeJPEG, info.ClockRate)),
			sdp.NewAttribute("control", info.StreamPath),
			sdp.NewAttribute("framerate", strconv.Itoa(info.FrameRate)),
		},
	}

	if info.ClockMetadata {
		media.Attributes = append(media.Attributes, clockAttributes(eng)...)
	}
	if info.MJPEGMetadata {
		media.Attributes = append(media.Attributes, mjpegAttributes(info)...)
	}

	desc.MediaDescriptions = append(desc.MediaDescriptions, media)
	return desc.Marshal()
}

// clockAttributes describes the session clock so downstream tools can
// line the stream up against wall time.
func clockAttributes(eng *timecode.Engine) []sdp.Attribute {
	attrs := []sdp.Attribute{
		sdp.NewAttribute("clock", strconv.FormatUint(uint64(eng.CurrentTimestamp()), 10)),
		sdp.NewAttribute("wallclock", strconv.FormatUint(uint64(eng.WallClockMs()), 10)),
	}
	if eng.Synchronized() {
		attrs = append(attrs,
			sdp.NewAttribute("ntp", strconv.FormatUint(uint64(eng.NTPTime()), 10)),
			sdp.NewAttribute("clock-sync", "1"),
		)
	} else {
		attrs = append(attrs, sdp.NewAttribute("clock-sync", "0"))
	}
	attrs = append(attrs, sdp.NewAttribute("timecode-mode", strconv.Itoa(int(eng.Mode()))))
	return attrs
}

// mjpegAttributes carries the quality, dimension and segmentation hints
// used by recording tools.
func mjpegAttributes(info SDPInfo) []sdp.Attribute {
	frameDurationMs := 1000 / info.FrameRate
	return []sdp.Attribute{
		sdp.NewAttribute("quality", strconv.Itoa(info.Quality)),
		sdp.NewAttribute("width", strconv.Itoa(info.Width)),
		sdp.NewAttribute("height", strconv.Itoa(info.Height)),
		sdp.NewAttribute("mjpeg", "1"),
		sdp.NewAttribute("keyframe-only", "1"),
		sdp.NewAttribute("keyframe-interval", "1"),
		sdp.NewAttribute("fragmentation", "1"),
		sdp.NewAttribute("max-fragment-size", strconv.Itoa(info.MaxFragmentSize)),
		sdp.NewAttribute("frame-duration", fmt.Sprintf("%dms", frameDurationMs)),
		sdp.NewAttribute("clock-rate", strconv.FormatUint(uint64(info.ClockRate), 10)),
	}
}

// sessionInformation builds the optional i= line.
func sessionInformation(s string) *sdp.Information {
	info := sdp.Information(s)
	return &info
}
