package usecase

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"liverelay/internal/domain"
	"liverelay/internal/ports"
)

// transcriptAssembler turns ordered partial-text and turn-boundary
// events into transcript entries with stable identity. At most one
// primary-speaker entry is open at a time; assistant entries are always
// emitted already final.
type transcriptAssembler struct {
	sink  ports.EventSink
	now   func() time.Time
	newID func() string

	open *domain.TranscriptEntry
}

func newTranscriptAssembler(sink ports.EventSink) *transcriptAssembler {
	return &transcriptAssembler{
		sink:  sink,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// AddFragment appends one partial-text fragment to the open turn,
// creating the turn if none is open, and re-emits the live entry.
// Fragments are never re-ordered or deduplicated; transport order is
// authoritative.
func (a *transcriptAssembler) AddFragment(text string) {
	if text == "" {
		return
	}

	now := a.now()
	if a.open == nil {
		a.open = &domain.TranscriptEntry{
			ID:        a.newID(),
			Speaker:   domain.SpeakerPrimary,
			Timestamp: now,
		}
	}

	a.open.Text += text
	a.open.LastUpdated = now
	a.sink.Transcript(*a.open)
}

// CompleteTurn finalizes the open entry, if it exists and carries text,
// and closes the turn. The returned snapshot (valid when ok) is what the
// refinement pass must key on; a turn that ends with no text produces
// nothing.
func (a *transcriptAssembler) CompleteTurn() (domain.TranscriptEntry, bool) {
	entry := a.open
	a.open = nil

	if entry == nil || strings.TrimSpace(entry.Text) == "" {
		return domain.TranscriptEntry{}, false
	}

	entry.IsFinal = true
	entry.IsRefined = false
	entry.LastUpdated = a.now()
	a.sink.Transcript(*entry)
	return *entry, true
}

// AddAssistantText emits an assistant entry, single-shot and final.
func (a *transcriptAssembler) AddAssistantText(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	now := a.now()
	a.sink.Transcript(domain.TranscriptEntry{
		ID:          a.newID(),
		Speaker:     domain.SpeakerAssistant,
		Text:        text,
		IsFinal:     true,
		Timestamp:   now,
		LastUpdated: now,
	})
}

// HasOpenTurn reports whether a primary-speaker turn is streaming.
func (a *transcriptAssembler) HasOpenTurn() bool {
	return a.open != nil
}
