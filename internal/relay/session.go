package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liverelay/internal/audio"
	"liverelay/internal/domain"
	"liverelay/internal/metrics"
	"liverelay/internal/ports"
)

// handshakeState gates traffic until the client has configured the
// session. The only valid transition is awaitingConfig -> active.
type handshakeState int

const (
	awaitingConfig handshakeState = iota
	active
)

const writeTimeout = 10 * time.Second

// session owns one client connection and, once the handshake lands, one
// upstream session. Nothing is shared across clients.
type session struct {
	conn     *websocket.Conn
	provider ports.UpstreamProvider
	// conversational forwards assistant audio to the client; otherwise
	// silent-listener policy mutes it, checked per event.
	conversational bool
	log            zerolog.Logger
	metrics        *metrics.Metrics

	writeMu sync.Mutex

	state    handshakeState
	upstream ports.UpstreamSession
}

func newSession(conn *websocket.Conn, provider ports.UpstreamProvider, conversational bool, log zerolog.Logger, m *metrics.Metrics) *session {
	return &session{
		conn:           conn,
		provider:       provider,
		conversational: conversational,
		log:            log,
		metrics:        m,
		state:          awaitingConfig,
	}
}

// run processes client messages until the transport closes, then tears
// the upstream down.
func (s *session) run(ctx context.Context) {
	defer func() {
		if s.upstream != nil {
			_ = s.upstream.Close()
		}
		_ = s.conn.Close()
	}()

	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Err(err).Msg("client connection closed abnormally")
			}
			return
		}

		if kind == websocket.BinaryMessage {
			s.handleBinaryAudio(payload)
			continue
		}
		if !s.handleTextMessage(ctx, payload) {
			return
		}
	}
}

// handleTextMessage returns false when the session must end.
func (s *session) handleTextMessage(ctx context.Context, payload []byte) bool {
	var msg clientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		if s.state == awaitingConfig {
			s.metrics.HandshakeDiscarded.Inc()
		}
		return true
	}

	if len(msg.Debug) > 0 {
		// best-effort diagnostics, never forwarded upstream
		s.log.Debug().RawJSON("debug", msg.Debug).Msg("client debug message")
		return true
	}

	if s.state == awaitingConfig {
		if msg.Type != messageTypeConfig || msg.SystemInstruction == "" {
			s.metrics.HandshakeDiscarded.Inc()
			return true
		}
		return s.activate(ctx, msg.SystemInstruction)
	}

	switch {
	case msg.Audio != "":
		pcm, err := audio.FromBase64(msg.Audio)
		if err != nil {
			s.log.Warn().Err(err).Msg("discarding undecodable audio payload")
			return true
		}
		s.forwardAudio(pcm)
	case msg.Text != "":
		s.metrics.TextMessagesTotal.Inc()
		if err := s.upstream.SendText(msg.Text); err != nil {
			s.log.Warn().Err(err).Msg("forward text upstream")
		}
	}
	return true
}

func (s *session) handleBinaryAudio(pcm []byte) {
	if s.state != active {
		s.metrics.HandshakeDiscarded.Inc()
		return
	}
	s.forwardAudio(pcm)
}

func (s *session) forwardAudio(pcm []byte) {
	s.metrics.AudioBytesForwarded.Add(float64(len(pcm)))
	if err := s.upstream.SendAudio(pcm); err != nil {
		s.log.Warn().Err(err).Msg("forward audio upstream")
	}
}

// activate opens the upstream session with the handshake configuration
// and acknowledges with server_ready before any other traffic flows.
func (s *session) activate(ctx context.Context, systemInstruction string) bool {
	upstream, err := s.provider.Open(ctx, ports.UpstreamConfig{SystemInstruction: systemInstruction})
	if err != nil {
		s.metrics.UpstreamOpenErrors.Inc()
		s.log.Error().Err(err).Msg("failed to open upstream session")
		s.closeClient(domain.CloseUpstreamFailure, "failed to connect to AI backend")
		return false
	}

	s.upstream = upstream
	s.state = active
	s.metrics.HandshakesTotal.Inc()

	if err := s.writeJSON(serverReady{Type: "server_ready"}); err != nil {
		s.log.Warn().Err(err).Msg("failed to send server_ready")
		return false
	}

	go s.forwardEvents()
	s.log.Info().Msg("session active")
	return true
}

// forwardEvents pumps normalized upstream events to the client, applying
// the assistant-audio muting policy per event.
func (s *session) forwardEvents() {
	for event := range s.upstream.Events() {
		switch event.Kind {
		case domain.EventSessionClosed:
			s.metrics.UpstreamClosures.WithLabelValues("closed").Inc()
			if event.Code == domain.CloseNormal {
				s.closeClient(domain.CloseNormal, "upstream session ended")
			} else {
				s.closeClient(domain.CloseUpstreamFailure, "upstream connection lost")
			}
			return
		case domain.EventSessionError:
			s.metrics.UpstreamClosures.WithLabelValues("error").Inc()
			s.log.Error().Str("reason", event.Reason).Msg("upstream session error")
			s.closeClient(domain.CloseUpstreamFailure, "upstream session error")
			return
		case domain.EventAssistantAudio:
			if !s.conversational {
				s.metrics.EventsMuted.Inc()
				continue
			}
		}

		frame, ok := frameFor(event)
		if !ok {
			continue
		}
		s.metrics.EventsForwarded.WithLabelValues(string(event.Kind)).Inc()
		if err := s.writeJSON(frame); err != nil {
			s.log.Debug().Err(err).Msg("stopped forwarding, client write failed")
			return
		}
	}

	// the event stream ended without a terminal close/error event; the
	// client still needs a close code it can base its reconnect decision on
	s.metrics.UpstreamClosures.WithLabelValues("lost").Inc()
	s.closeClient(domain.CloseUpstreamFailure, "upstream connection lost")
}

func frameFor(event domain.SessionEvent) (serverContentFrame, bool) {
	switch event.Kind {
	case domain.EventPartialTranscript:
		return serverContentFrame{ServerContent: serverContentBody{
			InputTranscription: &transcriptionBody{Text: event.Text},
		}}, true
	case domain.EventTurnComplete:
		return serverContentFrame{ServerContent: serverContentBody{TurnComplete: true}}, true
	case domain.EventAssistantText:
		return serverContentFrame{ServerContent: serverContentBody{
			OutputTranscription: &transcriptionBody{Text: event.Text},
		}}, true
	case domain.EventAssistantAudio:
		return serverContentFrame{ServerContent: serverContentBody{
			ModelTurn: &modelTurnBody{Parts: []modelPart{{
				InlineData: &inlineData{
					MimeType: "audio/pcm;rate=24000",
					Data:     audio.ToBase64(event.Audio),
				},
			}}},
		}}, true
	default:
		return serverContentFrame{}, false
	}
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *session) closeClient(code int, reason string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	message := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeTimeout))
	_ = s.conn.Close()
}
