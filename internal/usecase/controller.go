package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liverelay/internal/audio"
	"liverelay/internal/domain"
	"liverelay/internal/ports"
)

// ErrNotConnected is returned for operations that need a live session.
var ErrNotConnected = errors.New("no live session")

const requiredInputRate = 16000

// Config controls a live session controller.
type Config struct {
	ServerURL         string
	SystemInstruction string

	SampleRate   int
	ChunkSize    int
	PlaybackRate int

	// Conversational schedules assistant audio for playback; otherwise
	// any forwarded audio is dropped on arrival.
	Conversational bool

	Mic ports.CaptureConfig
	// System is the optional second capture source; acquisition failure
	// is tolerated and the session proceeds mic-only.
	System *ports.CaptureConfig
}

// Controller owns the client side of a live session: the capture graph,
// the relay transport, reconnection policy and the transcript pipeline.
type Controller struct {
	dialer   ports.TransportDialer
	capture  ports.AudioCapture
	playback ports.PlaybackSink
	refiner  ports.Refiner
	sink     ports.EventSink
	cfg      Config
	log      zerolog.Logger

	// afterFunc schedules reconnect timers; replaceable in tests.
	afterFunc func(time.Duration, func()) *time.Timer

	mu         sync.Mutex
	state      domain.ConnectionState
	current    *liveSession
	attempts   int
	retryTimer *time.Timer
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

func NewController(
	dialer ports.TransportDialer,
	capture ports.AudioCapture,
	playback ports.PlaybackSink,
	refiner ports.Refiner,
	sink ports.EventSink,
	cfg Config,
	log zerolog.Logger,
) *Controller {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = requiredInputRate
	}
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.PlaybackRate <= 0 {
		cfg.PlaybackRate = 24000
	}
	return &Controller{
		dialer:    dialer,
		capture:   capture,
		playback:  playback,
		refiner:   refiner,
		sink:      sink,
		cfg:       cfg,
		log:       log,
		afterFunc: time.AfterFunc,
		state:     domain.StateDisconnected,
	}
}

// Start opens a live session. Initial connect failure is terminal; the
// caller must restart explicitly.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if previous := c.current; previous != nil {
		c.current = nil
		c.mu.Unlock()
		previous.teardown()
		c.mu.Lock()
	}
	c.cancelRetryLocked()
	c.attempts = 0
	c.baseCtx, c.baseCancel = context.WithCancel(ctx)
	baseCtx := c.baseCtx
	c.mu.Unlock()

	if c.cfg.SampleRate != requiredInputRate {
		// no resampling is performed; the mismatch is a known degradation
		c.log.Warn().
			Int("configured", c.cfg.SampleRate).
			Int("required", requiredInputRate).
			Msg("capture sample rate differs from the rate the backend expects")
	}

	c.setState(domain.StateConnecting)
	if err := c.connect(baseCtx); err != nil {
		c.setState(domain.StateError)
		return err
	}
	return nil
}

// connect acquires audio sources, dials the relay and wires the pumps.
// Used for both initial connects and reconnect attempts.
func (c *Controller) connect(ctx context.Context) error {
	sessionCtx, cancel := context.WithCancel(ctx)

	mic, err := c.capture.Start(sessionCtx, c.cfg.Mic)
	if err != nil {
		cancel()
		c.sink.SessionError(domain.ErrorCodeAudioCapture, err.Error())
		return fmt.Errorf("acquire microphone: %w", err)
	}

	var system ports.CaptureSession
	if c.cfg.System != nil {
		system, err = c.capture.Start(sessionCtx, *c.cfg.System)
		if err != nil {
			// best-effort source: proceed mic-only
			c.log.Warn().Err(err).Msg("system audio unavailable, continuing mic-only")
			system = nil
		}
	}

	tr, err := c.dialer.Dial(sessionCtx, c.cfg.ServerURL)
	if err != nil {
		_ = mic.Stop()
		if system != nil {
			_ = system.Stop()
		}
		cancel()
		return fmt.Errorf("open relay transport: %w", err)
	}

	if err := tr.WriteJSON(configMessage{Type: "config", SystemInstruction: c.cfg.SystemInstruction}); err != nil {
		_ = mic.Stop()
		if system != nil {
			_ = system.Stop()
		}
		_ = tr.Close()
		cancel()
		return fmt.Errorf("send session config: %w", err)
	}

	sess := &liveSession{
		cancel:    cancel,
		transport: tr,
		mic:       mic,
		system:    system,
		buffer:    audio.NewChunkBuffer(c.cfg.SampleRate),
		assembler: newTranscriptAssembler(c.sink),
		recvDone:  make(chan struct{}),
	}
	if c.cfg.Conversational && c.playback != nil {
		sess.scheduler = audio.NewScheduler(c.playback, c.cfg.PlaybackRate)
	}

	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	c.setState(domain.StateConnected)

	reconciler := newRefinementReconciler(c.refiner, c.sink, c.cfg.SampleRate, c.log)

	sess.pumps.Add(1)
	go c.pumpCapture(sess, sess.mic)
	if sess.system != nil {
		sess.pumps.Add(1)
		go c.pumpCapture(sess, sess.system)
	}
	go c.receiveLoop(sessionCtx, sess, reconciler)

	return nil
}

// SendText forwards a typed user message into the live session.
func (c *Controller) SendText(text string) error {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.transport.WriteJSON(textMessage{Text: text})
}

// Stop ends the session. Explicit stop always wins: pending reconnect
// timers are cancelled and no retry survives it. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.cancelRetryLocked()
	c.attempts = 0
	sess := c.current
	c.current = nil
	if c.baseCancel != nil {
		c.baseCancel()
		c.baseCancel = nil
	}
	c.mu.Unlock()

	if sess != nil {
		sess.teardown()
	}
	if c.playback != nil {
		_ = c.playback.Close()
	}
	c.setState(domain.StateDisconnected)
}

// State reports the current lifecycle state.
func (c *Controller) State() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(state domain.ConnectionState) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.mu.Unlock()
	if changed {
		c.sink.StateChanged(state)
	}
}

func (c *Controller) cancelRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// handleTransportDown runs when the receive loop exits. A clean close
// resets the retry budget; an abnormal one schedules a backoff retry
// until the budget is spent.
func (c *Controller) handleTransportDown(sess *liveSession, err error) {
	c.mu.Lock()
	if c.current != sess {
		// explicit Stop or restart already owns this teardown
		c.mu.Unlock()
		return
	}
	c.current = nil
	baseCtx := c.baseCtx
	c.mu.Unlock()

	sess.teardown()

	var closeErr *ports.CloseError
	clean := errors.As(err, &closeErr) && closeErr.Code == domain.CloseNormal
	if clean || err == nil {
		c.mu.Lock()
		c.attempts = 0
		c.mu.Unlock()
		c.setState(domain.StateDisconnected)
		return
	}

	c.log.Warn().Err(err).Msg("transport lost")
	c.scheduleReconnect(baseCtx)
}

func (c *Controller) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.attempts >= maxReconnectAttempts {
		c.mu.Unlock()
		c.setState(domain.StateError)
		c.sink.SessionError(domain.ErrorCodeReconnectExhausted, "failed to reconnect after multiple attempts")
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := backoffDelay(attempt)
	c.retryTimer = c.afterFunc(delay, func() {
		c.reconnect(ctx)
	})
	c.mu.Unlock()

	c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
	c.setState(domain.StateReconnecting)
}

func (c *Controller) reconnect(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	c.setState(domain.StateConnecting)
	if err := c.connect(ctx); err != nil {
		c.log.Warn().Err(err).Msg("reconnect attempt failed")
		c.scheduleReconnect(ctx)
	}
}
