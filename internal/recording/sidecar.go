package recording

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when no recording exists for an id.
var ErrNotFound = errors.New("recording: not found")

// UtteranceInfo describes one model utterance placed in the mix.
type UtteranceInfo struct {
	OffsetMs   int64 `json:"offset_ms"`
	DurationMs int64 `json:"duration_ms"`
}

// Metadata is the JSON sidecar written next to every recording.
type Metadata struct {
	ConnectionID   string          `json:"connection_id"`
	StartedAt      time.Time       `json:"started_at"`
	CreatedAt      time.Time       `json:"created_at"`
	RecordingPath  string          `json:"recording_path"`
	Format         string          `json:"format"`
	Bitrate        int             `json:"bitrate,omitempty"`
	SampleRate     int             `json:"sample_rate"`
	UserDurationMs int64           `json:"user_duration_ms"`
	DurationMs     int64           `json:"duration_ms"`
	Utterances     []UtteranceInfo `json:"utterances"`
}

// SidecarStore reads and writes sidecars in Dir. A nil store is a no-op.
type SidecarStore struct {
	Dir string
}

func NewSidecarStore(dir string) *SidecarStore {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &SidecarStore{Dir: dir}
}

// Path is the sidecar location for a connection id.
func (s *SidecarStore) Path(id string) string {
	return filepath.Join(s.Dir, id+".json")
}

// Write stores md atomically.
func (s *SidecarStore) Write(md Metadata) error {
	if s == nil {
		return nil
	}
	b, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("recording: marshal sidecar %s: %w", md.ConnectionID, err)
	}
	if err := SaveFileAtomic(s.Path(md.ConnectionID), b, 0o644); err != nil {
		return fmt.Errorf("recording: write sidecar %s: %w", md.ConnectionID, err)
	}
	return nil
}

// Read loads the sidecar for id. Ids that could escape Dir are rejected as
// not found.
func (s *SidecarStore) Read(id string) (Metadata, error) {
	if s == nil || !ValidID(id) {
		return Metadata{}, ErrNotFound
	}
	b, err := os.ReadFile(s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("recording: read sidecar %s: %w", id, err)
	}
	var md Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return Metadata{}, fmt.Errorf("recording: invalid sidecar %s: %w", id, err)
	}
	return md, nil
}

// ValidID reports whether id is safe to use as a file name stem.
func ValidID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
