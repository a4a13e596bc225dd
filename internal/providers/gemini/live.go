// Package gemini adapts the Gemini Live bidirectional streaming API to
// the relay's normalized session events.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liverelay/internal/audio"
	"liverelay/internal/domain"
	"liverelay/internal/ports"
)

const (
	bidiPath      = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	inputMimeType = "audio/pcm;rate=16000"

	setupTimeout = 15 * time.Second
)

// Config controls the Gemini Live connection.
type Config struct {
	APIKey string
	Host   string
	Model  string
}

// Provider implements ports.UpstreamProvider for Gemini Live.
type Provider struct {
	cfg Config
}

func NewProvider(cfg Config) *Provider {
	if cfg.Host == "" {
		cfg.Host = "generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "models/gemini-2.5-flash-native-audio-preview-09-2025"
	}
	return &Provider{cfg: cfg}
}

// Open dials the live endpoint, sends the session setup and waits for the
// setup acknowledgement. On any failure no partial session escapes.
func (p *Provider) Open(ctx context.Context, cfg ports.UpstreamConfig) (ports.UpstreamSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not configured")
	}

	endpoint := url.URL{
		Scheme:   "wss",
		Host:     p.cfg.Host,
		Path:     bidiPath,
		RawQuery: url.Values{"key": {p.cfg.APIKey}}.Encode(),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("connect to Gemini Live: %w", err)
	}

	setup := setupMessage{}
	setup.Setup.Model = p.cfg.Model
	setup.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	setup.Setup.InputAudioTranscription = &struct{}{}
	setup.Setup.OutputAudioTranscription = &struct{}{}
	if instruction := strings.TrimSpace(cfg.SystemInstruction); instruction != "" {
		setup.Setup.SystemInstruction = &contentPayload{Parts: []partPayload{{Text: instruction}}}
	}

	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send session setup: %w", err)
	}

	if err := awaitSetupComplete(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	session := newLiveSession(conn)
	session.start()

	go func() {
		<-ctx.Done()
		_ = session.Close()
	}()

	return session, nil
}

func awaitSetupComplete(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(setupTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("await setup ack: %w", err)
	}

	var ack struct {
		SetupComplete *struct{} `json:"setupComplete"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil || ack.SetupComplete == nil {
		return errors.New("unexpected first frame from Gemini Live, wanted setupComplete")
	}
	return nil
}

type liveSession struct {
	conn *websocket.Conn

	events   chan domain.SessionEvent
	outbound chan []byte
	// closing is closed at the start of Close, before any waiting, so
	// senders parked on full buffers always unblock; done is closed only
	// after both loops have exited.
	closing chan struct{}
	done    chan struct{}

	wg sync.WaitGroup

	termMu   sync.Mutex
	terminal *domain.SessionEvent

	closeOnce sync.Once
}

func newLiveSession(conn *websocket.Conn) *liveSession {
	return &liveSession{
		conn:     conn,
		events:   make(chan domain.SessionEvent, 64),
		outbound: make(chan []byte, 32),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *liveSession) start() {
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		s.emitTerminal()
		close(s.events)
		close(s.done)
		_ = s.conn.Close()
	}()
}

// SendAudio queues one PCM chunk wrapped as a realtime media frame.
func (s *liveSession) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	frame := realtimeInputMessage{}
	chunk := mediaChunk{MimeType: inputMimeType, Data: audio.ToBase64(pcm)}
	frame.RealtimeInput.MediaChunks = []mediaChunk{chunk}
	return s.enqueue(frame)
}

// SendText queues a user text turn.
func (s *liveSession) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	frame := clientContentMessage{}
	frame.ClientContent.Turns = []turnPayload{{
		Role:  "user",
		Parts: []partPayload{{Text: text}},
	}}
	frame.ClientContent.TurnComplete = true
	return s.enqueue(frame)
}

func (s *liveSession) enqueue(frame any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal upstream frame: %w", err)
	}

	select {
	case <-s.closing:
		return errors.New("upstream session is closed")
	default:
	}

	select {
	case s.outbound <- payload:
		return nil
	case <-s.closing:
		return errors.New("upstream session is closed")
	}
}

func (s *liveSession) Events() <-chan domain.SessionEvent {
	return s.events
}

// Close is idempotent and safe after failure. The closing signal lands
// before any waiting so a reader parked on a full events buffer or a
// sender parked on a full outbound buffer can never wedge the teardown.
func (s *liveSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *liveSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case payload := <-s.outbound:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.setTerminal(domain.SessionEvent{
					Kind:   domain.EventSessionError,
					Reason: fmt.Sprintf("send to Gemini Live: %v", err),
				})
				return
			}
		case <-s.closing:
			return
		}
	}
}

func (s *liveSession) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setTerminal(closeEvent(err))
			return
		}

		for _, event := range NormalizeServerMessage(payload) {
			s.emit(event)
		}
	}
}

func (s *liveSession) emit(event domain.SessionEvent) {
	select {
	case s.events <- event:
	case <-s.closing:
	}
}

// setTerminal records the event delivered after both loops stop. Only the
// first cause wins; later failures are echoes of the same teardown.
func (s *liveSession) setTerminal(event domain.SessionEvent) {
	s.termMu.Lock()
	if s.terminal == nil {
		s.terminal = &event
	}
	s.termMu.Unlock()
	_ = s.conn.Close()
}

func (s *liveSession) emitTerminal() {
	s.termMu.Lock()
	event := s.terminal
	s.termMu.Unlock()

	if event == nil {
		event = &domain.SessionEvent{Kind: domain.EventSessionClosed, Code: domain.CloseNormal}
	}
	select {
	case s.events <- *event:
	default:
	}
}

func closeEvent(err error) domain.SessionEvent {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return domain.SessionEvent{Kind: domain.EventSessionClosed, Code: closeErr.Code, Reason: closeErr.Text}
	}
	return domain.SessionEvent{Kind: domain.EventSessionError, Reason: err.Error()}
}
