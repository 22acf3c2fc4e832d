package recording

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gemini-live-lab/internal/logging"
)

// StartCleaner periodically removes recordings and their sidecars older than
// retention (0 keeps everything) and keeps at most maxFiles (0 is unlimited).
// Callers must wg.Add(1) first; the goroutine calls wg.Done on exit.
func StartCleaner(ctx context.Context, wg *sync.WaitGroup, dir string, retention, interval time.Duration, maxFiles int) {
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := Sweep(dir, retention, maxFiles, time.Now()); n > 0 {
					logging.Infow("recording: cleaner removed recordings", "dir", dir, "removed", n)
				}
			}
		}
	}()
}

type pair struct {
	sidecar string
	audio   string
	mod     time.Time
}

// Sweep runs one cleanup pass and returns how many recordings it removed.
func Sweep(dir string, retention time.Duration, maxFiles int, now time.Time) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logging.Debugw("recording: cleaner readDir failed", "dir", dir, "err", err)
		return 0
	}
	var pairs []pair
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		sidecar := filepath.Join(dir, name)
		st, err := os.Stat(sidecar)
		if err != nil {
			continue
		}
		pairs = append(pairs, pair{sidecar: sidecar, audio: audioPath(sidecar), mod: st.ModTime()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	removed := 0
	kept := pairs[:0]
	for _, p := range pairs {
		if retention > 0 && p.mod.Before(now.Add(-retention)) {
			remove(p)
			removed++
			continue
		}
		kept = append(kept, p)
	}
	if maxFiles > 0 && len(kept) > maxFiles {
		for _, p := range kept[:len(kept)-maxFiles] {
			remove(p)
			removed++
		}
	}
	return removed
}

// audioPath prefers the path recorded in the sidecar and falls back to the
// sidecar stem with each known extension.
func audioPath(sidecar string) string {
	if b, err := os.ReadFile(sidecar); err == nil {
		var md Metadata
		if json.Unmarshal(b, &md) == nil && md.RecordingPath != "" {
			return md.RecordingPath
		}
	}
	stem := strings.TrimSuffix(sidecar, ".json")
	for _, ext := range []string{".ogg", ".wav"} {
		if _, err := os.Stat(stem + ext); err == nil {
			return stem + ext
		}
	}
	return ""
}

func remove(p pair) {
	_ = os.Remove(p.sidecar)
	if p.audio != "" {
		_ = os.Remove(p.audio)
	}
}
