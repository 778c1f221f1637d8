package speech

import "context"

// Result is a transcription outcome.
type Result struct {
	Status    string
	Text      string
	RequestID string
	TraceID   string
}

// Transcriber converts recorded call audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (Result, error)
}

// Synthesizer converts text to playable WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// semaphore caps concurrent requests against a speech backend.
type semaphore chan struct{}

func newSemaphore(n int) semaphore {
	if n <= 0 {
		n = 1
	}
	return make(semaphore, n)
}

func (s semaphore) acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s semaphore) release() {
	<-s
}
