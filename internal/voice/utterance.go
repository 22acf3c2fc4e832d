package voice

import (
	"bytes"
	"sync"
	"time"

	"github.com/gemini-live-lab/internal/recording"
)

// utterances buffers the model audio of the turn in progress and keeps the
// finalized records. The offset of a turn is taken from its first chunk.
type utterances struct {
	mu      sync.Mutex
	since   func() time.Duration
	pending [][]byte
	offset  time.Duration
	records []recording.Utterance
}

func newUtterances(since func() time.Duration) *utterances {
	return &utterances{since: since}
}

// Append adds a chunk to the turn in progress.
func (u *utterances) Append(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.pending) == 0 {
		u.offset = u.since()
	}
	u.pending = append(u.pending, pcm)
}

// Finalize closes the turn in progress into a record. With nothing pending
// it does nothing and returns false, so repeated calls add one record.
func (u *utterances) Finalize() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.pending) == 0 {
		return false
	}
	u.records = append(u.records, recording.Utterance{
		OffsetMs: u.offset.Milliseconds(),
		PCM:      bytes.Join(u.pending, nil),
	})
	u.pending = nil
	u.offset = 0
	return true
}

// Records returns a copy of the finalized records.
func (u *utterances) Records() []recording.Utterance {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]recording.Utterance, len(u.records))
	copy(out, u.records)
	return out
}

func (u *utterances) Pending() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.pending) > 0
}
