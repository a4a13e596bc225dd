package audio

import "sync"

// ChunkBuffer accumulates the raw float samples captured since the last
// turn boundary. It backs the refinement pass: on turn completion the
// whole buffer is drained in one step so audio from one turn can never
// leak into another turn's refinement request.
type ChunkBuffer struct {
	mu      sync.Mutex
	samples []float32
}

// NewChunkBuffer pre-allocates capacity for about two seconds of audio at
// the given rate.
func NewChunkBuffer(sampleRate int) *ChunkBuffer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &ChunkBuffer{samples: make([]float32, 0, sampleRate*2)}
}

// Append copies a capture frame into the buffer.
func (b *ChunkBuffer) Append(frame []float32) {
	b.mu.Lock()
	b.samples = append(b.samples, frame...)
	b.mu.Unlock()
}

// Drain returns everything buffered since the last drain and atomically
// clears the buffer. Returns nil when empty.
func (b *ChunkBuffer) Drain() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.samples) == 0 {
		return nil
	}
	out := make([]float32, len(b.samples))
	copy(out, b.samples)
	b.samples = b.samples[:0]
	return out
}

// Len reports the buffered sample count.
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.samples)
}
