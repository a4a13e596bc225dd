package domain

import "time"

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerPrimary   Speaker = "primary-speaker"
	SpeakerAssistant Speaker = "assistant"
)

// StaleAfter is how long an open entry may go without a new fragment
// before it is considered lagging. Purely a display signal.
const StaleAfter = 2500 * time.Millisecond

// TranscriptEntry is one conversational turn.
type TranscriptEntry struct {
	ID          string    `json:"id"`
	Speaker     Speaker   `json:"speaker"`
	Text        string    `json:"text"`
	IsFinal     bool      `json:"isFinal"`
	IsRefined   bool      `json:"isRefined"`
	Timestamp   time.Time `json:"timestamp"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// IsLagging reports whether a still-open entry has gone quiet for longer
// than the staleness threshold.
func (e TranscriptEntry) IsLagging(now time.Time) bool {
	return !e.IsFinal && now.Sub(e.LastUpdated) > StaleAfter
}

// ConnectionState models the client session lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// SessionEventKind discriminates normalized upstream events.
type SessionEventKind string

const (
	EventPartialTranscript SessionEventKind = "partial_transcript"
	EventTurnComplete      SessionEventKind = "turn_complete"
	EventAssistantText     SessionEventKind = "assistant_text"
	EventAssistantAudio    SessionEventKind = "assistant_audio"
	EventSessionClosed     SessionEventKind = "session_closed"
	EventSessionError      SessionEventKind = "session_error"
)

// SessionEvent is the normalized shape every upstream signal is reduced
// to. One payload field is meaningful per kind: Text for transcripts and
// assistant text, Audio for assistant audio, Code and Reason for closes
// and errors.
type SessionEvent struct {
	Kind   SessionEventKind
	Text   string
	Audio  []byte
	Code   int
	Reason string
}

// ErrorCode identifies client-visible failure categories.
type ErrorCode string

const (
	ErrorCodeConnect            ErrorCode = "connect"
	ErrorCodeTransport          ErrorCode = "transport"
	ErrorCodeAudioCapture       ErrorCode = "audio_capture"
	ErrorCodeReconnectExhausted ErrorCode = "reconnect_exhausted"
	ErrorCodeRefinement         ErrorCode = "refinement"
)

// Close codes on the client-facing websocket. CloseUpstreamFailure
// distinguishes "upstream died" from a client-initiated close, which
// drives the client's reconnect decision.
const (
	CloseNormal          = 1000
	CloseAbnormal        = 1006
	CloseUpstreamFailure = 1011
)
