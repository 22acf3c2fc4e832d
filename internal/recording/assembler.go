// Package recording turns a finished voice session into one audio file: the
// user's microphone track with each model utterance mixed in at the moment it
// started playing.
package recording

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gemini-live-lab/internal/logging"
)

const (
	UserRate  = 16000
	ModelRate = 24000
)

// ErrNoUserAudio means the session produced no microphone audio, so there is
// nothing to record.
var ErrNoUserAudio = errors.New("recording: no user audio")

// Utterance is one finalized model utterance. OffsetMs is measured from the
// session start; PCM is 24 kHz mono PCM16.
type Utterance struct {
	OffsetMs int64
	PCM      []byte
}

// Session is everything the assembler needs from a closed connection.
type Session struct {
	ConnectionID string
	StartedAt    time.Time
	UserPCM      []byte
	Utterances   []Utterance
}

// Mix builds the 16 kHz track: user audio as the base, each utterance
// resampled from 24 kHz and overlaid at OffsetMs. The result grows to fit an
// utterance that runs past the end of the user audio.
func Mix(s Session) ([]int16, error) {
	if len(s.UserPCM) < 2 {
		return nil, ErrNoUserAudio
	}
	track := BytesToSamples(s.UserPCM)
	for _, u := range s.Utterances {
		over := Resample(BytesToSamples(u.PCM), ModelRate, UserRate)
		track = Overlay(track, over, int(u.OffsetMs)*UserRate/1000)
	}
	return track, nil
}

// Assembler writes recordings into Dir.
type Assembler struct {
	Dir      string
	Encoder  Encoder
	Sidecars *SidecarStore
	// Observe, when set, is told the outcome of every Assemble call:
	// "saved", "skipped" or "failed".
	Observe func(status string)
}

// NewAssembler uses DefaultEncoder at bitrate.
func NewAssembler(dir string, bitrate int) *Assembler {
	return &Assembler{
		Dir:      dir,
		Encoder:  DefaultEncoder(bitrate),
		Sidecars: NewSidecarStore(dir),
	}
}

// Assemble mixes and exports s, returning the file path. It returns
// ErrNoUserAudio without writing anything when the user never spoke.
func (a *Assembler) Assemble(ctx context.Context, s Session) (string, error) {
	path, err := a.assemble(ctx, s)
	switch {
	case errors.Is(err, ErrNoUserAudio):
		a.observe("skipped")
	case err != nil:
		a.observe("failed")
	default:
		a.observe("saved")
	}
	return path, err
}

func (a *Assembler) assemble(ctx context.Context, s Session) (string, error) {
	fields := logging.ConnFields(s.ConnectionID)
	track, err := Mix(s)
	if err != nil {
		logging.Infow("recording: skipped, no user audio", fields...)
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !ValidID(s.ConnectionID) {
		return "", fmt.Errorf("recording: invalid connection id %q", s.ConnectionID)
	}

	var buf bytes.Buffer
	if err := a.Encoder.Encode(&buf, track, UserRate); err != nil {
		return "", err
	}
	path := filepath.Join(a.Dir, s.ConnectionID+"."+a.Encoder.Ext())
	if err := SaveFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("recording: save %s: %w", path, err)
	}

	md := Metadata{
		ConnectionID:   s.ConnectionID,
		StartedAt:      s.StartedAt,
		CreatedAt:      time.Now().UTC(),
		RecordingPath:  path,
		Format:         a.Encoder.Ext(),
		Bitrate:        a.Encoder.BitsPerSecond(),
		SampleRate:     UserRate,
		UserDurationMs: int64(len(s.UserPCM) / 2 * 1000 / UserRate),
		DurationMs:     int64(len(track) * 1000 / UserRate),
		Utterances:     make([]UtteranceInfo, 0, len(s.Utterances)),
	}
	for _, u := range s.Utterances {
		md.Utterances = append(md.Utterances, UtteranceInfo{
			OffsetMs:   u.OffsetMs,
			DurationMs: int64(len(u.PCM) / 2 * 1000 / ModelRate),
		})
	}
	if err := a.Sidecars.Write(md); err != nil {
		logging.Warnw("recording: sidecar write failed", append(fields, "err", err)...)
	}

	logging.Infow("recording: saved", append(fields,
		"path", path,
		"bytes", buf.Len(),
		"utterances", len(s.Utterances),
		"duration_ms", md.DurationMs,
	)...)
	return path, nil
}

func (a *Assembler) observe(status string) {
	if a.Observe != nil {
		a.Observe(status)
	}
}
