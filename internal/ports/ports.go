package ports

import (
	"context"
	"fmt"
	"io"

	"liverelay/internal/domain"
)

// CaptureConfig describes how an audio source should be captured.
type CaptureConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// CaptureSession is a live audio capture delivering raw little-endian
// 16-bit PCM via Read.
type CaptureSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates capture sessions for a configured device.
type AudioCapture interface {
	Start(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// PlaybackSink accepts decoded float samples for audible output. Play is
// expected to queue and return promptly.
type PlaybackSink interface {
	Play(samples []float32, sampleRate int) error
	Close() error
}

// UpstreamConfig carries per-session settings for the streaming backend.
type UpstreamConfig struct {
	SystemInstruction string
}

// UpstreamSession is one open connection to the streaming AI backend.
// Close is idempotent and safe after failure. Events is closed when the
// session ends, after a final SessionClosed or SessionError event.
type UpstreamSession interface {
	SendAudio(pcm []byte) error
	SendText(text string) error
	Events() <-chan domain.SessionEvent
	Close() error
}

// UpstreamProvider opens upstream sessions.
type UpstreamProvider interface {
	Open(ctx context.Context, cfg UpstreamConfig) (UpstreamSession, error)
}

// Transport is the client's message-oriented connection to the relay.
type Transport interface {
	WriteJSON(v any) error
	// ReadMessage blocks for the next relay message. A closed connection
	// surfaces as an error carrying the close code.
	ReadMessage() ([]byte, error)
	Close() error
}

// TransportDialer opens relay transports.
type TransportDialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// CloseError reports that the transport was closed with a websocket
// close code. Implementations return it from ReadMessage so the caller's
// reconnect policy can distinguish clean from abnormal closure.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("transport closed with code %d", e.Code)
	}
	return fmt.Sprintf("transport closed with code %d: %s", e.Code, e.Reason)
}

// Refiner runs the batch re-transcription pass over a completed turn.
// It receives a base64 WAV payload and returns the corrected text, or
// empty when the collaborator has nothing better.
type Refiner interface {
	Refine(ctx context.Context, wavBase64 string) (string, error)
}

// EventSink receives client session output for presentation.
type EventSink interface {
	StateChanged(state domain.ConnectionState)
	Transcript(entry domain.TranscriptEntry)
	SessionError(code domain.ErrorCode, detail string)
}
