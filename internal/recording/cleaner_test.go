package recording

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writePair(t *testing.T, dir, id string, age time.Duration) {
	t.Helper()
	store := NewSidecarStore(dir)
	audio := filepath.Join(dir, id+".wav")
	if err := os.WriteFile(audio, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := store.Write(Metadata{ConnectionID: id, RecordingPath: audio}); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
	mod := time.Now().Add(-age)
	if err := os.Chtimes(store.Path(id), mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestSweepRetention(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "old", 48*time.Hour)
	writePair(t, dir, "new", time.Minute)

	if n := Sweep(dir, 24*time.Hour, 0, time.Now()); n != 1 {
		t.Fatalf("removed: want=1 got=%d", n)
	}
	if exists(filepath.Join(dir, "old.wav")) || exists(filepath.Join(dir, "old.json")) {
		t.Fatalf("old recording should be gone")
	}
	if !exists(filepath.Join(dir, "new.wav")) {
		t.Fatalf("new recording should remain")
	}
}

func TestSweepMaxFilesKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "a", 3*time.Hour)
	writePair(t, dir, "b", 2*time.Hour)
	writePair(t, dir, "c", time.Hour)

	if n := Sweep(dir, 0, 2, time.Now()); n != 1 {
		t.Fatalf("removed: want=1 got=%d", n)
	}
	if exists(filepath.Join(dir, "a.json")) {
		t.Fatalf("oldest recording should be removed")
	}
	if !exists(filepath.Join(dir, "b.json")) || !exists(filepath.Join(dir, "c.json")) {
		t.Fatalf("newest recordings should remain")
	}
}

func TestSweepZeroLimitsKeepEverything(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "a", 1000*time.Hour)
	if n := Sweep(dir, 0, 0, time.Now()); n != 0 {
		t.Fatalf("removed: want=0 got=%d", n)
	}
	if n := Sweep(filepath.Join(dir, "missing"), time.Hour, 1, time.Now()); n != 0 {
		t.Fatalf("missing dir: want=0 got=%d", n)
	}
}

func TestStartCleanerStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writePair(t, dir, "old", 48*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	StartCleaner(ctx, &wg, dir, time.Hour, 10*time.Millisecond, 0)

	deadline := time.Now().Add(2 * time.Second)
	for exists(filepath.Join(dir, "old.json")) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	wg.Wait()
	if exists(filepath.Join(dir, "old.json")) {
		t.Fatalf("cleaner did not remove expired recording")
	}
}
