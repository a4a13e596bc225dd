package usecase

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"liverelay/internal/domain"
)

type fakeSink struct {
	mu      sync.Mutex
	states  []domain.ConnectionState
	entries []domain.TranscriptEntry
	errors  []domain.ErrorCode
}

func (s *fakeSink) StateChanged(state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *fakeSink) Transcript(entry domain.TranscriptEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *fakeSink) SessionError(code domain.ErrorCode, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, code)
}

func (s *fakeSink) snapshotEntries() []domain.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TranscriptEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *fakeSink) snapshotStates() []domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConnectionState, len(s.states))
	copy(out, s.states)
	return out
}

func (s *fakeSink) snapshotErrors() []domain.ErrorCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ErrorCode, len(s.errors))
	copy(out, s.errors)
	return out
}

func newTestAssembler(sink *fakeSink) *transcriptAssembler {
	a := newTranscriptAssembler(sink)
	var seq int
	a.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return a
}

func TestAssemblerAccumulatesFragmentsIntoOneTurn(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := newTestAssembler(sink)

	a.AddFragment("Hel")
	a.AddFragment("lo wor")
	a.AddFragment("ld")
	entry, ok := a.CompleteTurn()
	if !ok {
		t.Fatal("CompleteTurn returned no entry")
	}

	if entry.Text != "Hello world" {
		t.Errorf("final text = %q, want %q", entry.Text, "Hello world")
	}
	if !entry.IsFinal {
		t.Error("finalized entry should be marked final")
	}
	if entry.Speaker != domain.SpeakerPrimary {
		t.Errorf("speaker = %q", entry.Speaker)
	}

	entries := sink.snapshotEntries()
	if len(entries) != 4 {
		t.Fatalf("emitted %d entries, want 3 partials + 1 final", len(entries))
	}
	for i, e := range entries {
		if e.ID != entry.ID {
			t.Errorf("entry %d has id %q, want the single turn id %q", i, e.ID, entry.ID)
		}
	}
	for i, e := range entries[:3] {
		if e.IsFinal {
			t.Errorf("partial %d marked final", i)
		}
	}
}

func TestAssemblerNewTurnAfterCompletion(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := newTestAssembler(sink)

	a.AddFragment("first turn")
	first, _ := a.CompleteTurn()
	a.AddFragment("second turn")
	second, _ := a.CompleteTurn()

	if first.ID == second.ID {
		t.Errorf("both turns share id %q", first.ID)
	}
	if second.Text != "second turn" {
		t.Errorf("second turn text = %q", second.Text)
	}
}

func TestAssemblerEmptyTurnProducesNothing(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := newTestAssembler(sink)

	if _, ok := a.CompleteTurn(); ok {
		t.Error("turn with no fragments should not finalize")
	}

	a.AddFragment("   ")
	if _, ok := a.CompleteTurn(); ok {
		t.Error("whitespace-only turn should not finalize")
	}
	if a.HasOpenTurn() {
		t.Error("turn should be closed either way")
	}
}

func TestAssemblerIgnoresEmptyFragments(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := newTestAssembler(sink)

	a.AddFragment("")
	if a.HasOpenTurn() {
		t.Error("empty fragment opened a turn")
	}
	if len(sink.snapshotEntries()) != 0 {
		t.Error("empty fragment emitted an entry")
	}
}

func TestAssemblerAssistantTextIsSingleShot(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := newTestAssembler(sink)

	a.AddFragment("user is talking")
	a.AddAssistantText("  Ask: what changed?  ")

	entries := sink.snapshotEntries()
	last := entries[len(entries)-1]
	if last.Speaker != domain.SpeakerAssistant {
		t.Errorf("speaker = %q", last.Speaker)
	}
	if last.Text != "Ask: what changed?" {
		t.Errorf("text = %q, want trimmed", last.Text)
	}
	if !last.IsFinal {
		t.Error("assistant entries are final on arrival")
	}
	if !a.HasOpenTurn() {
		t.Error("assistant text must not close the primary speaker's open turn")
	}
}

func TestAssemblerLaggingEntry(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	a := newTestAssembler(sink)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }

	a.AddFragment("still going")
	entry := sink.snapshotEntries()[0]

	if entry.IsLagging(base.Add(domain.StaleAfter - time.Millisecond)) {
		t.Error("entry lagging before the staleness window elapsed")
	}
	if !entry.IsLagging(base.Add(domain.StaleAfter + time.Millisecond)) {
		t.Error("entry not lagging after the staleness window elapsed")
	}
}
