package audio

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"liverelay/internal/ports"
)

// Scheduler lines incoming audio chunks up on a monotonic next-play-time
// cursor so playback stays gapless under arrival jitter: each chunk
// starts at max(now, cursor) and the cursor advances by the chunk's
// duration, never overlapping the previous chunk.
type Scheduler struct {
	sink       ports.PlaybackSink
	sampleRate int
	now        func() time.Time

	mu   sync.Mutex
	next time.Time
}

// NewScheduler creates a scheduler feeding the sink at the given rate.
func NewScheduler(sink ports.PlaybackSink, sampleRate int) *Scheduler {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &Scheduler{sink: sink, sampleRate: sampleRate, now: time.Now}
}

// Schedule queues one chunk and returns its computed start time.
func (s *Scheduler) Schedule(samples []float32) (time.Time, error) {
	s.mu.Lock()
	start := s.now()
	if s.next.After(start) {
		start = s.next
	}
	duration := time.Duration(float64(len(samples)) / float64(s.sampleRate) * float64(time.Second))
	s.next = start.Add(duration)
	s.mu.Unlock()

	if err := s.sink.Play(samples, s.sampleRate); err != nil {
		return start, fmt.Errorf("schedule playback: %w", err)
	}
	return start, nil
}

// FFPlaySink plays PCM audio by piping it into an ffplay process.
type FFPlaySink struct {
	command string

	mu    sync.Mutex
	stdin io.WriteCloser
	cmd   *exec.Cmd
	rate  int
}

func NewFFPlaySink(command string) *FFPlaySink {
	if command == "" {
		command = "ffplay"
	}
	return &FFPlaySink{command: command}
}

// Play writes samples to the ffplay pipe, starting the process on first
// use. Back-to-back writes into one pipe keep output contiguous.
func (p *FFPlaySink) Play(samples []float32, sampleRate int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin == nil {
		if err := p.start(sampleRate); err != nil {
			return err
		}
	}
	if p.rate != sampleRate {
		return fmt.Errorf("playback sample rate changed mid-stream: %d -> %d", p.rate, sampleRate)
	}

	if _, err := p.stdin.Write(EncodePCM16(samples)); err != nil {
		return fmt.Errorf("write to ffplay: %w", err)
	}
	return nil
}

func (p *FFPlaySink) start(sampleRate int) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nodisp",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", "-",
	}
	cmd := exec.Command(p.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create ffplay stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}

	p.stdin = stdin
	p.cmd = cmd
	p.rate = sampleRate
	return nil
}

// Close stops the ffplay process. Safe to call without a prior Play.
func (p *FFPlaySink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stdin == nil {
		return nil
	}
	err := p.stdin.Close()
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(os.Interrupt)
		_ = p.cmd.Wait()
	}
	p.stdin = nil
	p.cmd = nil
	return err
}
