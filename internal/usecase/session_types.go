package usecase

import (
	"context"
	"sync"

	"liverelay/internal/audio"
	"liverelay/internal/ports"
)

// liveSession bundles every resource owned by one connection attempt:
// the capture graph, the relay transport, the per-turn audio buffer and
// the transcript machinery. All of it is torn down together.
type liveSession struct {
	cancel context.CancelFunc

	transport ports.Transport
	mic       ports.CaptureSession
	system    ports.CaptureSession // nil when the optional source is absent

	buffer    *audio.ChunkBuffer
	assembler *transcriptAssembler
	scheduler *audio.Scheduler

	pumps    sync.WaitGroup
	recvDone chan struct{}

	teardownOnce sync.Once
}

// teardown releases the session's resources and returns only once the
// capture pumps have exited, so no frame is written after it. Safe to
// call from both the receive loop and an explicit Stop.
func (s *liveSession) teardown() {
	s.teardownOnce.Do(func() {
		s.cancel()
		if s.mic != nil {
			_ = s.mic.Stop()
		}
		if s.system != nil {
			_ = s.system.Stop()
		}
		_ = s.transport.Close()
		s.pumps.Wait()
	})
}

// Outbound wire messages to the relay.

type configMessage struct {
	Type              string `json:"type"`
	SystemInstruction string `json:"systemInstruction"`
}

type audioMessage struct {
	Audio string `json:"audio"`
}

type textMessage struct {
	Text string `json:"text"`
}

// relayMessage mirrors the relay's outbound frames.
type relayMessage struct {
	Type          string `json:"type,omitempty"`
	ServerContent *struct {
		InputTranscription *struct {
			Text string `json:"text"`
		} `json:"inputTranscription"`
		OutputTranscription *struct {
			Text string `json:"text"`
		} `json:"outputTranscription"`
		TurnComplete bool `json:"turnComplete"`
		ModelTurn    *struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
	} `json:"serverContent"`
}
