//go:build !opus

package recording

import (
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"
)

// DefaultEncoder returns the WAV encoder when built without libopus. bitrate
// only applies to the opus build; build with -tags opus for compressed
// recordings.
func DefaultEncoder(bitrate int) Encoder { return WAVEncoder{} }

// WAVEncoder writes 16-bit mono RIFF/WAVE files.
type WAVEncoder struct{}

func (WAVEncoder) Ext() string         { return "wav" }
func (WAVEncoder) ContentType() string { return ContentTypeFor("wav") }
func (WAVEncoder) BitsPerSecond() int  { return 0 }

func (WAVEncoder) Encode(w io.Writer, samples []int16, rate int) error {
	ww := wav.NewWriter(w, uint32(len(samples)), 1, uint32(rate), 16)
	buf := make([]wav.Sample, len(samples))
	for i, s := range samples {
		buf[i].Values[0] = int(s)
	}
	if err := ww.WriteSamples(buf); err != nil {
		return fmt.Errorf("recording: write wav: %w", err)
	}
	return nil
}
