package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"liverelay/internal/audio"
	"liverelay/internal/domain"
)

// pumpCapture moves frames from one capture source into the session:
// every frame is encoded and sent to the relay and appended to the
// per-turn buffer before the next frame is read.
func (c *Controller) pumpCapture(sess *liveSession, src io.Reader) {
	defer sess.pumps.Done()

	buf := make([]byte, c.cfg.ChunkSize)
	for {
		n, err := src.Read(buf)
		if n > 1 {
			pcm := buf[: n-n%2 : n]
			sess.buffer.Append(audio.DecodePCM16(pcm))
			if sendErr := sess.transport.WriteJSON(audioMessage{Audio: audio.ToBase64(pcm)}); sendErr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				c.sink.SessionError(domain.ErrorCodeAudioCapture, err.Error())
			}
			return
		}
	}
}

// receiveLoop consumes relay frames in arrival order and drives the
// assembler, the refinement pass and playback. It is the only reader of
// the transport.
func (c *Controller) receiveLoop(ctx context.Context, sess *liveSession, reconciler *refinementReconciler) {
	defer close(sess.recvDone)

	for {
		payload, err := sess.transport.ReadMessage()
		if err != nil {
			c.handleTransportDown(sess, err)
			return
		}
		c.dispatch(ctx, sess, reconciler, payload)
	}
}

func (c *Controller) dispatch(ctx context.Context, sess *liveSession, reconciler *refinementReconciler, payload []byte) {
	var msg relayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.log.Debug().Err(err).Msg("discarding unparsable relay frame")
		return
	}

	if msg.Type == "server_ready" {
		c.log.Debug().Msg("relay session ready")
		return
	}

	content := msg.ServerContent
	if content == nil {
		return
	}

	if content.InputTranscription != nil {
		sess.assembler.AddFragment(content.InputTranscription.Text)
	}

	if content.TurnComplete {
		entry, finalized := sess.assembler.CompleteTurn()
		// the buffer clears exactly once per turn boundary, text or not
		samples := sess.buffer.Drain()
		if finalized && len(samples) > 0 {
			go reconciler.Reconcile(ctx, entry, samples)
		}
	}

	if content.OutputTranscription != nil {
		sess.assembler.AddAssistantText(content.OutputTranscription.Text)
	}

	if content.ModelTurn != nil && sess.scheduler != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			pcm, err := audio.FromBase64(part.InlineData.Data)
			if err != nil {
				continue
			}
			if _, err := sess.scheduler.Schedule(audio.DecodePCM16(pcm)); err != nil {
				c.log.Warn().Err(err).Msg("assistant audio playback failed")
			}
		}
	}
}
