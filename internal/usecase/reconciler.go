package usecase

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"liverelay/internal/audio"
	"liverelay/internal/domain"
	"liverelay/internal/ports"
)

// refinementReconciler runs the higher-fidelity second transcription pass
// over a completed turn's audio and substitutes the corrected text into
// that turn's entry. Failures degrade silently: the entry keeps the text
// the assembler finalized.
type refinementReconciler struct {
	refiner    ports.Refiner
	sink       ports.EventSink
	sampleRate int
	log        zerolog.Logger
}

func newRefinementReconciler(refiner ports.Refiner, sink ports.EventSink, sampleRate int, log zerolog.Logger) *refinementReconciler {
	return &refinementReconciler{
		refiner:    refiner,
		sink:       sink,
		sampleRate: sampleRate,
		log:        log,
	}
}

// Reconcile re-transcribes the turn's audio and emits the refined entry.
// The entry snapshot was captured at turn completion, so a slow
// completion can only ever touch the turn it belongs to, regardless of
// how many newer turns have started since.
func (r *refinementReconciler) Reconcile(ctx context.Context, entry domain.TranscriptEntry, samples []float32) {
	if r.refiner == nil || len(samples) == 0 {
		return
	}

	refined, err := r.refiner.Refine(ctx, audio.EncodeWAV(samples, r.sampleRate))
	if err != nil {
		r.log.Warn().Err(err).Str("entryId", entry.ID).Msg("refinement failed, keeping streaming transcript")
		return
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		r.log.Debug().Str("entryId", entry.ID).Msg("refinement returned nothing, keeping streaming transcript")
		return
	}

	entry.Text = refined
	entry.IsRefined = true
	r.sink.Transcript(entry)
}
