package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"liverelay/internal/domain"
	"liverelay/internal/ports"
)

type fakeCaptureSession struct {
	chunks chan []byte
	done   chan struct{}
	// exitDelay stalls the final Read after Stop, imitating a capture
	// process that takes a moment to flush and exit.
	exitDelay time.Duration
	once      sync.Once
}

func newFakeCaptureSession() *fakeCaptureSession {
	return &fakeCaptureSession{
		chunks: make(chan []byte, 8),
		done:   make(chan struct{}),
	}
}

func (s *fakeCaptureSession) Read(p []byte) (int, error) {
	select {
	case chunk := <-s.chunks:
		return copy(p, chunk), nil
	case <-s.done:
		if s.exitDelay > 0 {
			time.Sleep(s.exitDelay)
		}
		return 0, io.EOF
	}
}

func (s *fakeCaptureSession) Stop() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeCaptureSession) Close() error { return s.Stop() }

type fakeCapture struct {
	mu        sync.Mutex
	failFor   map[string]error
	exitDelay time.Duration
	sessions  []*fakeCaptureSession
}

func (c *fakeCapture) Start(_ context.Context, cfg ports.CaptureConfig) (ports.CaptureSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failFor[cfg.InputDevice]; err != nil {
		return nil, err
	}
	s := newFakeCaptureSession()
	s.exitDelay = c.exitDelay
	c.sessions = append(c.sessions, s)
	return s, nil
}

func (c *fakeCapture) lastSession() *fakeCaptureSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil
	}
	return c.sessions[len(c.sessions)-1]
}

type readResult struct {
	data []byte
	err  error
}

type fakeTransport struct {
	mu     sync.Mutex
	writes []any

	reads     chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		reads:  make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (t *fakeTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, v)
	return nil
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case r := <-t.reads:
		return r.data, r.err
	case <-t.closed:
		return nil, &ports.CloseError{Code: domain.CloseNormal}
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) pushFrame(s string) {
	t.reads <- readResult{data: []byte(s)}
}

func (t *fakeTransport) pushError(err error) {
	t.reads <- readResult{err: err}
}

func (t *fakeTransport) snapshotWrites() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]any, len(t.writes))
	copy(out, t.writes)
	return out
}

type dialResult struct {
	transport *fakeTransport
	err       error
}

type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
}

func (d *fakeDialer) Dial(context.Context, string) (ports.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) == 0 {
		return nil, errors.New("no transport queued")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.transport, nil
}

func (d *fakeDialer) queue(r dialResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, r)
}

type scheduledRetry struct {
	delay time.Duration
	fire  func()
}

type testHarness struct {
	controller *Controller
	dialer     *fakeDialer
	capture    *fakeCapture
	refiner    *fakeRefiner
	sink       *fakeSink
	retries    chan scheduledRetry
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	if cfg.ServerURL == "" {
		cfg.ServerURL = "ws://localhost:3001/ws"
	}
	if cfg.Mic.InputDevice == "" {
		cfg.Mic.InputDevice = "mic"
	}

	h := &testHarness{
		dialer:  &fakeDialer{},
		capture: &fakeCapture{failFor: map[string]error{}},
		refiner: &fakeRefiner{},
		sink:    &fakeSink{},
		retries: make(chan scheduledRetry, 8),
	}
	h.controller = NewController(h.dialer, h.capture, nil, h.refiner, h.sink, cfg, zerolog.Nop())
	h.controller.afterFunc = func(d time.Duration, f func()) *time.Timer {
		h.retries <- scheduledRetry{delay: d, fire: f}
		return time.AfterFunc(time.Hour, func() {})
	}
	t.Cleanup(h.controller.Stop)
	return h
}

func (h *testHarness) nextRetry(t *testing.T) scheduledRetry {
	t.Helper()
	select {
	case r := <-h.retries:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reconnect to be scheduled")
		return scheduledRetry{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartSendsConfigHandshakeFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{SystemInstruction: "stay quiet"})
	tr := newFakeTransport()
	h.dialer.queue(dialResult{transport: tr})

	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.controller.State(); got != domain.StateConnected {
		t.Fatalf("state = %q, want connected", got)
	}

	writes := tr.snapshotWrites()
	if len(writes) == 0 {
		t.Fatal("nothing written to the transport")
	}
	cfg, ok := writes[0].(configMessage)
	if !ok {
		t.Fatalf("first write = %T, want the config handshake", writes[0])
	}
	if cfg.Type != "config" || cfg.SystemInstruction != "stay quiet" {
		t.Errorf("handshake = %+v", cfg)
	}
}

func TestMicFailureIsTerminal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.capture.failFor["mic"] = errors.New("device busy")

	if err := h.controller.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when the microphone cannot be acquired")
	}
	if got := h.controller.State(); got != domain.StateError {
		t.Errorf("state = %q, want error", got)
	}
	errs := h.sink.snapshotErrors()
	if len(errs) == 0 || errs[0] != domain.ErrorCodeAudioCapture {
		t.Errorf("errors = %v, want audio_capture", errs)
	}
}

func TestSystemAudioFailureProceedsMicOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{System: &ports.CaptureConfig{InputDevice: "system"}})
	h.capture.failFor["system"] = errors.New("loopback unavailable")
	h.dialer.queue(dialResult{transport: newFakeTransport()})

	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.controller.State(); got != domain.StateConnected {
		t.Errorf("state = %q, want connected", got)
	}
	if len(h.sink.snapshotErrors()) != 0 {
		t.Error("losing the optional source must not raise a session error")
	}
}

func TestCleanCloseDisconnectsWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	tr := newFakeTransport()
	h.dialer.queue(dialResult{transport: tr})

	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tr.pushError(&ports.CloseError{Code: domain.CloseNormal})

	waitFor(t, "disconnected state", func() bool {
		return h.controller.State() == domain.StateDisconnected
	})
	select {
	case <-h.retries:
		t.Fatal("clean close must not schedule a reconnect")
	default:
	}
}

func TestReconnectBackoffThenTerminalError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	tr := newFakeTransport()
	h.dialer.queue(dialResult{transport: tr})
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// the session drops abnormally; every redial fails
	tr.pushError(&ports.CloseError{Code: domain.CloseAbnormal, Reason: "going away"})

	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range wantDelays {
		retry := h.nextRetry(t)
		if retry.delay != want {
			t.Fatalf("attempt %d delay = %v, want %v", i+1, retry.delay, want)
		}
		retry.fire()
	}

	waitFor(t, "terminal error state", func() bool {
		return h.controller.State() == domain.StateError
	})
	select {
	case r := <-h.retries:
		t.Fatalf("a fourth reconnect was scheduled after %v", r.delay)
	default:
	}

	errs := h.sink.snapshotErrors()
	if len(errs) == 0 || errs[len(errs)-1] != domain.ErrorCodeReconnectExhausted {
		t.Errorf("errors = %v, want reconnect_exhausted last", errs)
	}
}

func TestReconnectSucceedsOnSecondAttempt(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	first := newFakeTransport()
	h.dialer.queue(dialResult{transport: first})
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first.pushError(&ports.CloseError{Code: domain.CloseAbnormal})

	retry := h.nextRetry(t)
	retry.fire() // dial queue is empty, attempt 1 fails

	retry = h.nextRetry(t)
	if retry.delay != 2*time.Second {
		t.Fatalf("second attempt delay = %v, want 2s", retry.delay)
	}
	second := newFakeTransport()
	h.dialer.queue(dialResult{transport: second})
	retry.fire()

	waitFor(t, "reconnected state", func() bool {
		return h.controller.State() == domain.StateConnected
	})
	writes := second.snapshotWrites()
	if len(writes) == 0 {
		t.Fatal("reconnected session never re-sent the config handshake")
	}
	if _, ok := writes[0].(configMessage); !ok {
		t.Errorf("first write after reconnect = %T, want config", writes[0])
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	tr := newFakeTransport()
	h.dialer.queue(dialResult{transport: tr})
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tr.pushError(&ports.CloseError{Code: domain.CloseAbnormal})
	retry := h.nextRetry(t)

	h.controller.Stop()
	if got := h.controller.State(); got != domain.StateDisconnected {
		t.Fatalf("state = %q, want disconnected", got)
	}

	// a timer that already fired must find the session context cancelled
	retry.fire()
	if got := h.controller.State(); got != domain.StateDisconnected {
		t.Errorf("state after stale retry = %q, want disconnected", got)
	}
}

func TestStopWaitsForCapturePumps(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	h.capture.exitDelay = 80 * time.Millisecond
	h.dialer.queue(dialResult{transport: newFakeTransport()})
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	h.controller.Stop()
	if elapsed := time.Since(start); elapsed < 60*time.Millisecond {
		t.Errorf("Stop returned after %v, before the capture pump exited", elapsed)
	}
}

func TestSendTextRequiresSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{})
	if err := h.controller.SendText("hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}

	tr := newFakeTransport()
	h.dialer.queue(dialResult{transport: tr})
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.controller.SendText("hello"); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	writes := tr.snapshotWrites()
	last := writes[len(writes)-1]
	msg, ok := last.(textMessage)
	if !ok || msg.Text != "hello" {
		t.Errorf("last write = %#v, want textMessage{hello}", last)
	}
}

func TestTranscriptPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{SampleRate: 16000, ChunkSize: 512})
	h.refiner.text = "Hello world, refined."
	tr := newFakeTransport()
	h.dialer.queue(dialResult{transport: tr})
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// one captured chunk lands in the turn buffer and goes out as base64
	mic := h.capture.lastSession()
	mic.chunks <- []byte{0x00, 0x40, 0x00, 0xc0}
	waitFor(t, "audio forwarded to the relay", func() bool {
		for _, w := range tr.snapshotWrites() {
			if _, ok := w.(audioMessage); ok {
				return true
			}
		}
		return false
	})

	tr.pushFrame(`{"type":"server_ready"}`)
	tr.pushFrame(`{"serverContent":{"inputTranscription":{"text":"Hel"}}}`)
	tr.pushFrame(`{"serverContent":{"inputTranscription":{"text":"lo world"}}}`)
	tr.pushFrame(`{"serverContent":{"turnComplete":true}}`)
	tr.pushFrame(`{"serverContent":{"outputTranscription":{"text":"Ask: what changed?"}}}`)

	waitFor(t, "refined entry", func() bool {
		for _, e := range h.sink.snapshotEntries() {
			if e.IsRefined {
				return true
			}
		}
		return false
	})

	waitFor(t, "assistant entry", func() bool {
		for _, e := range h.sink.snapshotEntries() {
			if e.Speaker == domain.SpeakerAssistant {
				return true
			}
		}
		return false
	})

	var final, refined, assistant domain.TranscriptEntry
	for _, e := range h.sink.snapshotEntries() {
		switch {
		case e.IsRefined:
			refined = e
		case e.IsFinal && e.Speaker == domain.SpeakerPrimary:
			final = e
		case e.Speaker == domain.SpeakerAssistant:
			assistant = e
		}
	}
	if final.Text != "Hello world" {
		t.Fatalf("final streaming entry = %+v", final)
	}
	if refined.Text != "Hello world, refined." {
		t.Fatalf("refined entry = %+v", refined)
	}
	if refined.ID != final.ID {
		t.Errorf("refined id %q != streaming id %q", refined.ID, final.ID)
	}
	if assistant.Text != "Ask: what changed?" {
		t.Errorf("assistant entry = %+v", assistant)
	}

	if h.refiner.callCount() != 1 {
		t.Errorf("refiner calls = %d, want 1", h.refiner.callCount())
	}
}

func TestPumpEncodesCapturedAudio(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{ChunkSize: 512})
	tr := newFakeTransport()
	h.dialer.queue(dialResult{transport: tr})
	if err := h.controller.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.capture.lastSession().chunks <- []byte{0x01, 0x02, 0x03, 0x04}

	var got audioMessage
	waitFor(t, "audio frame", func() bool {
		for _, w := range tr.snapshotWrites() {
			if m, ok := w.(audioMessage); ok {
				got = m
				return true
			}
		}
		return false
	})
	if got.Audio != "AQIDBA==" {
		t.Errorf("audio payload = %q, want base64 of the raw chunk", got.Audio)
	}
}
