//go:build opus

package recording

import (
	"fmt"
	"io"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
)

const (
	frameMs = 20
	// Ogg/Opus granule positions always count 48 kHz samples.
	oggClockRate = 48000
)

// DefaultEncoder returns the Ogg/Opus encoder at bitrate bits per second.
func DefaultEncoder(bitrate int) Encoder { return &OpusEncoder{Bitrate: bitrate} }

// OpusEncoder writes Ogg/Opus files in 20 ms frames.
type OpusEncoder struct {
	Bitrate int
}

func (*OpusEncoder) Ext() string         { return "ogg" }
func (*OpusEncoder) ContentType() string { return ContentTypeFor("ogg") }
func (e *OpusEncoder) BitsPerSecond() int { return e.Bitrate }

func (e *OpusEncoder) Encode(w io.Writer, samples []int16, rate int) error {
	enc, err := opus.NewEncoder(rate, 1, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("recording: opus encoder: %w", err)
	}
	if e.Bitrate > 0 {
		if err := enc.SetBitrate(e.Bitrate); err != nil {
			return fmt.Errorf("recording: opus bitrate %d: %w", e.Bitrate, err)
		}
	}
	ogg, err := oggwriter.NewWith(w, uint32(rate), 1)
	if err != nil {
		return fmt.Errorf("recording: ogg writer: %w", err)
	}

	frame := rate * frameMs / 1000
	step := uint32(oggClockRate * frameMs / 1000)
	pcm := make([]int16, frame)
	out := make([]byte, 4000)
	var seq uint16
	var ts uint32
	for off := 0; off < len(samples); off += frame {
		n := copy(pcm, samples[off:])
		clear(pcm[n:])
		size, err := enc.Encode(pcm, out)
		if err != nil {
			return fmt.Errorf("recording: opus encode: %w", err)
		}
		payload := make([]byte, size)
		copy(payload, out[:size])
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: ts},
			Payload: payload,
		}
		if err := ogg.WriteRTP(pkt); err != nil {
			return fmt.Errorf("recording: ogg write: %w", err)
		}
		seq++
		ts += step
	}
	return ogg.Close()
}
