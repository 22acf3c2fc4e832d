package recording

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// rawEncoder writes samples as PCM16 so tests can inspect the mix.
type rawEncoder struct{}

func (rawEncoder) Ext() string         { return "pcm" }
func (rawEncoder) ContentType() string { return "application/octet-stream" }
func (rawEncoder) BitsPerSecond() int  { return 0 }
func (rawEncoder) Encode(w io.Writer, samples []int16, rate int) error {
	_, err := w.Write(SamplesToBytes(samples))
	return err
}

type failingEncoder struct{ rawEncoder }

func (failingEncoder) Encode(io.Writer, []int16, int) error { return errors.New("encode failed") }

func constPCM(n int, v int16) []byte {
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return SamplesToBytes(s)
}

func TestMixPlacesUtteranceAtOffset(t *testing.T) {
	// 1 s of user audio, a 0.3 s utterance at 500 ms
	track, err := Mix(Session{
		UserPCM:    constPCM(16000, 100),
		Utterances: []Utterance{{OffsetMs: 500, PCM: constPCM(7200, 50)}},
	})
	require.NoError(t, err)
	require.Len(t, track, 16000)
	require.Equal(t, int16(100), track[7999])
	require.Equal(t, int16(150), track[8000])
	require.Equal(t, int16(150), track[8000+4799])
	require.Equal(t, int16(100), track[8000+4800])
}

func TestMixExtendsForLateUtterance(t *testing.T) {
	// 0.5 s user audio, 1 s utterance at 300 ms ends at 1.3 s
	track, err := Mix(Session{
		UserPCM:    constPCM(8000, 1),
		Utterances: []Utterance{{OffsetMs: 300, PCM: constPCM(24000, 2)}},
	})
	require.NoError(t, err)
	require.Len(t, track, 4800+16000)
	require.Equal(t, int16(3), track[4800])
	require.Equal(t, int16(2), track[len(track)-1])
}

func TestMixOverlappingUtterancesNeverTruncate(t *testing.T) {
	// 1 s user audio; 1 s utterances at 1000 ms and 1500 ms overlap for 0.5 s
	track, err := Mix(Session{
		UserPCM: constPCM(16000, 1),
		Utterances: []Utterance{
			{OffsetMs: 1000, PCM: constPCM(24000, 10)},
			{OffsetMs: 1500, PCM: constPCM(24000, 10)},
		},
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(track), 24000+16000)
	require.Equal(t, int16(1), track[15999])
	require.Equal(t, int16(10), track[20000])
	require.Equal(t, int16(20), track[28000], "overlapping utterances are summed")
	require.Equal(t, int16(10), track[36000])
}

func TestMixNoUserAudio(t *testing.T) {
	_, err := Mix(Session{Utterances: []Utterance{{PCM: constPCM(10, 1)}}})
	require.ErrorIs(t, err, ErrNoUserAudio)
}

func TestAssembleWritesFileAndSidecar(t *testing.T) {
	dir := t.TempDir()
	var statuses []string
	a := &Assembler{Dir: dir, Encoder: rawEncoder{}, Sidecars: NewSidecarStore(dir), Observe: func(s string) { statuses = append(statuses, s) }}
	started := time.Now().UTC().Truncate(time.Second)

	path, err := a.Assemble(context.Background(), Session{
		ConnectionID: "conn_1_abcdef12",
		StartedAt:    started,
		UserPCM:      constPCM(16000, 10),
		Utterances:   []Utterance{{OffsetMs: 250, PCM: constPCM(2400, 1)}},
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "conn_1_abcdef12.pcm"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, b, 32000)

	md, err := a.Sidecars.Read("conn_1_abcdef12")
	require.NoError(t, err)
	require.Equal(t, path, md.RecordingPath)
	require.Equal(t, int64(1000), md.UserDurationMs)
	require.Equal(t, int64(1000), md.DurationMs)
	require.Equal(t, []UtteranceInfo{{OffsetMs: 250, DurationMs: 100}}, md.Utterances)
	require.True(t, started.Equal(md.StartedAt))
	require.Zero(t, md.Bitrate, "uncompressed output reports no bitrate")
	require.Equal(t, []string{"saved"}, statuses)
}

func TestAssembleSkipsWithoutUserAudio(t *testing.T) {
	dir := t.TempDir()
	var statuses []string
	a := &Assembler{Dir: dir, Encoder: rawEncoder{}, Sidecars: NewSidecarStore(dir), Observe: func(s string) { statuses = append(statuses, s) }}

	_, err := a.Assemble(context.Background(), Session{ConnectionID: "conn_2_x"})
	require.ErrorIs(t, err, ErrNoUserAudio)
	entries, _ := os.ReadDir(dir)
	require.Empty(t, entries)
	require.Equal(t, []string{"skipped"}, statuses)
}

func TestAssembleEncoderFailure(t *testing.T) {
	dir := t.TempDir()
	var statuses []string
	a := &Assembler{Dir: dir, Encoder: failingEncoder{}, Observe: func(s string) { statuses = append(statuses, s) }}
	_, err := a.Assemble(context.Background(), Session{ConnectionID: "conn_3_x", UserPCM: constPCM(10, 1)})
	require.EqualError(t, err, "encode failed")
	require.Equal(t, []string{"failed"}, statuses)
}

func TestAssembleRejectsUnsafeID(t *testing.T) {
	a := &Assembler{Dir: t.TempDir(), Encoder: rawEncoder{}}
	_, err := a.Assemble(context.Background(), Session{ConnectionID: "../escape", UserPCM: constPCM(10, 1)})
	require.ErrorContains(t, err, "invalid connection id")
}

func TestDefaultEncoderWritesFile(t *testing.T) {
	dir := t.TempDir()
	a := NewAssembler(dir, 96000)
	path, err := a.Assemble(context.Background(), Session{ConnectionID: "conn_4_x", UserPCM: constPCM(3200, 500)})
	require.NoError(t, err)
	st, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, st.Size(), int64(0))
	require.Equal(t, "."+a.Encoder.Ext(), filepath.Ext(path))
}
