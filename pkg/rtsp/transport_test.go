package rtsp

import (
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestParseTransport(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		policy  TransportPolicy
		wantErr bool
		check   func(t *testing.T, spec *TransportSpec)
	}{
		{
			name:   "udp with client ports",
			header: "RTP/AVP;unicast;client_port=5000-5001",
			policy: PolicyFallback,
			check: func(t *testing.T, spec *TransportSpec) {
				if spec.Mode != ModeUDP {
					t.Errorf("mode: got %v, want udp", spec.Mode)
				}
				if spec.ClientRTPPort != 5000 || spec.ClientRTCPPort != 5001 {
					t.Errorf("ports: got %d-%d", spec.ClientRTPPort, spec.ClientRTCPPort)
				}
			},
		},
		{
			name:   "interleaved requested",
			header: "RTP/AVP/TCP;unicast;interleaved=2-3",
			policy: PolicyFallback,
			check: func(t *testing.T, spec *TransportSpec) {
				if spec.Mode != ModeInterleaved {
					t.Errorf("mode: got %v, want interleaved", spec.Mode)
				}
				if spec.RTPChannel != 2 || spec.RTCPChannel != 3 {
					t.Errorf("channels: got %d-%d", spec.RTPChannel, spec.RTCPChannel)
				}
			},
		},
		{
			name:   "interleaved without channels gets defaults",
			header: "RTP/AVP/TCP;unicast",
			policy: PolicyFallback,
			check: func(t *testing.T, spec *TransportSpec) {
				if spec.RTPChannel != 0 || spec.RTCPChannel != 1 {
					t.Errorf("default channels: got %d-%d, want 0-1", spec.RTPChannel, spec.RTCPChannel)
				}
			},
		},
		{
			name:   "policy forces interleaved over udp request",
			header: "RTP/AVP;unicast;client_port=5000-5001",
			policy: PolicyForceInterleaved,
			check: func(t *testing.T, spec *TransportSpec) {
				if spec.Mode != ModeInterleaved {
					t.Errorf("mode: got %v, want interleaved", spec.Mode)
				}
			},
		},
		{
			name:    "empty header is malformed",
			header:  "",
			policy:  PolicyFallback,
			wantErr: true,
		},
		{
			name:    "udp without client ports",
			header:  "RTP/AVP;unicast",
			policy:  PolicyFallback,
			wantErr: true,
		},
		{
			name:    "zero client port",
			header:  "RTP/AVP;unicast;client_port=0-1",
			policy:  PolicyFallback,
			wantErr: true,
		},
		{
			name:    "garbage client ports",
			header:  "RTP/AVP;unicast;client_port=abc-def",
			policy:  PolicyFallback,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseTransport(tt.header, tt.policy)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, spec)
		})
	}
}

func TestTransportResponseHeader(t *testing.T) {
	udp := &TransportSpec{Mode: ModeUDP, ClientRTPPort: 5000, ClientRTCPPort: 5001}
	header := udp.ResponseHeader(20010)
	if !strings.Contains(header, "client_port=5000-5001") || !strings.Contains(header, "server_port=20010-20011") {
		t.Errorf("udp header: %s", header)
	}

	tcp := &TransportSpec{Mode: ModeInterleaved, RTPChannel: 0, RTCPChannel: 1}
	header = tcp.ResponseHeader(0)
	if !strings.Contains(header, "RTP/AVP/TCP") || !strings.Contains(header, "interleaved=0-1") {
		t.Errorf("interleaved header: %s", header)
	}
}

func TestUDPSenderDelivers(t *testing.T) {
	receiver, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer receiver.Close()
	port := receiver.LocalAddr().(*net.UDPAddr).Port

	sender, err := newUDPSender(net.IPv4(127, 0, 0, 1), port, DeliveryConfig{
		MaxRetries: 2, ResetThreshold: 10,
	})
	if err != nil {
		t.Fatalf("newUDPSender failed: %v", err)
	}
	defer sender.Close()

	payload := []byte("media packet")
	if err := sender.Send(payload); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := receiver.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("received %q", buf[:n])
	}
	if sender.ErrorCount() != 0 {
		t.Errorf("error count after success: got %d", sender.ErrorCount())
	}
}

func TestUDPSenderResetAfterThreshold(t *testing.T) {
	sender, err := newUDPSender(net.IPv4(127, 0, 0, 1), 15000, DeliveryConfig{
		MaxRetries: 1, ResetThreshold: 3,
	})
	if err != nil {
		t.Fatalf("newUDPSender failed: %v", err)
	}
	defer sender.Close()

	// Closing the endpoint makes every write fail until the reset reopens
	// it.
	sender.conn.Close()

	payload := []byte("x")
	for i := 1; i <= 2; i++ {
		if err := sender.Send(payload); err == nil {
			t.Fatal("expected send failure on closed endpoint")
		}
		if sender.ErrorCount() != i {
			t.Errorf("error count: got %d, want %d", sender.ErrorCount(), i)
		}
	}

	// Third failure reaches the threshold: endpoint reopens, counter
	// clears.
	if err := sender.Send(payload); err == nil {
		t.Fatal("expected send failure on closed endpoint")
	}
	if sender.ErrorCount() != 0 {
		t.Errorf("error count after reset: got %d, want 0", sender.ErrorCount())
	}
	if err := sender.Send(payload); err != nil {
		t.Errorf("send after reset failed: %v", err)
	}
}

// flakyWriter fails its first len(errs) writes with the given errors,
// then succeeds.
type flakyWriter struct {
	calls int
	errs  []error
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.calls <= len(w.errs) {
		return 0, w.errs[w.calls-1]
	}
	return len(p), nil
}

func TestInterleavedSendRetriesTransientOnly(t *testing.T) {
	// A transient write failure is retried once and succeeds.
	transient := &flakyWriter{errs: []error{errTransient}}
	sender := &interleavedSender{writer: NewMessageWriter(transient), channel: 0}
	if err := sender.Send([]byte("pkt")); err != nil {
		t.Fatalf("transient failure must be retried: %v", err)
	}
	if transient.calls != 2 {
		t.Errorf("writes: got %d, want 2", transient.calls)
	}

	// A dead connection aborts without a retry.
	dead := &flakyWriter{errs: []error{net.ErrClosed, net.ErrClosed}}
	sender = &interleavedSender{writer: NewMessageWriter(dead), channel: 0}
	if err := sender.Send([]byte("pkt")); err == nil {
		t.Fatal("expected error on closed connection")
	}
	if dead.calls != 1 {
		t.Errorf("closed connection must not be retried: %d writes", dead.calls)
	}
}

var errTransient = fmt.Errorf("temporary write failure")

func TestUDPSenderClearErrors(t *testing.T) {
	sender, err := newUDPSender(net.IPv4(127, 0, 0, 1), 15000, DefaultDeliveryConfig())
	if err != nil {
		t.Fatalf("newUDPSender failed: %v", err)
	}
	defer sender.Close()

	sender.errorCount = 4
	sender.ClearErrors()
	if sender.ErrorCount() != 0 {
		t.Errorf("error count after clear: got %d", sender.ErrorCount())
	}
}
