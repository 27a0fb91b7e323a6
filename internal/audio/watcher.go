// Package audio watches a recorder output directory and associates
// finished audio files with their calls. Recorders that lack the bus
// plugin still drop files on disk; this path turns each file into a
// CALL_UPDATE carrying the audio reference, so audio association goes
// through the same transition rules as every other event.
package audio

import (
	"context"
	"log"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/technosupport/ts-radio/internal/calls"
	"github.com/technosupport/ts-radio/internal/engine"
)

// matchWindow bounds how far a file's embedded start time may drift from
// the call record's start time and still be considered the same call.
const matchWindow = 10 * time.Second

// settleDelay coalesces rapid Create+Write events while the recorder is
// still flushing the file.
const settleDelay = 2 * time.Second

type Watcher struct {
	dir    string
	store  calls.Store
	router *engine.Router
	log    *log.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer
}

func NewWatcher(dir string, store calls.Store, router *engine.Router, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		dir:            dir,
		store:          store,
		router:         router,
		log:            logger,
		debounceTimers: make(map[string]*time.Timer),
	}
}

func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	w.fsw = fsw

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.loop(ctx)

	w.log.Printf("audio: watching %s", w.dir)
	return nil
}

func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsw != nil {
		w.fsw.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.debounce(ctx, ev.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Printf("audio: watch error: %v", err)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) debounce(ctx context.Context, path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(settleDelay)
		return
	}
	w.debounceTimers[path] = time.AfterFunc(settleDelay, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()
		w.process(ctx, path)
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	ref, ok := ParseFilename(filepath.Base(path))
	if !ok {
		return
	}

	callID, err := w.resolve(ctx, ref)
	if err != nil {
		w.log.Printf("audio: no call matches %s (tgid=%d start=%d): %v",
			filepath.Base(path), ref.Talkgroup, ref.StartTime.Unix(), err)
		return
	}

	out := w.router.Route(ctx, &engine.NormalizedEvent{
		MessageID:  uuid.New(),
		CallID:     callID,
		Talkgroup:  ref.Talkgroup,
		Kind:       engine.KindCallUpdate,
		Topic:      "internal/audio_watcher",
		ObservedAt: time.Now().UTC(),
		AudioFile:  path,
		AudioType:  ref.AudioType,
	})

	// A terminal-state rejection is normal here: audio routinely lands
	// after CALL_END. The attempt is still on the record's ledger.
	if out.Result == engine.ResultFailed {
		w.log.Printf("audio: associate %s with %s: %v", filepath.Base(path), callID, out.Err)
	}
}

// FileRef is the call identity encoded in a recording filename.
type FileRef struct {
	Talkgroup int
	StartTime time.Time
	AudioType string
}

// ParseFilename decodes the recorder naming convention
// {tgid}-{unix_start}_{freq}.{wav|m4a}. Reports false for anything
// else (temp files, indexes, unrelated drops).
func ParseFilename(name string) (FileRef, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	var audioType string
	switch ext {
	case ".wav":
		audioType = "wav"
	case ".m4a":
		audioType = "m4a"
	default:
		return FileRef{}, false
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	if i := strings.IndexByte(base, '_'); i >= 0 {
		base = base[:i] // strip _{freq}
	}

	tgidStr, startStr, ok := strings.Cut(base, "-")
	if !ok {
		return FileRef{}, false
	}
	tgid, err := strconv.Atoi(tgidStr)
	if err != nil || tgid <= 0 {
		return FileRef{}, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start <= 0 {
		return FileRef{}, false
	}

	return FileRef{
		Talkgroup: tgid,
		StartTime: time.Unix(start, 0).UTC(),
		AudioType: audioType,
	}, true
}

// resolve finds the call whose start time sits closest to the file's
// embedded start, within the match window.
func (w *Watcher) resolve(ctx context.Context, ref FileRef) (string, error) {
	recs, err := w.store.Query(ctx, calls.Filter{
		Talkgroup: ref.Talkgroup,
		From:      ref.StartTime.Add(-matchWindow),
		To:        ref.StartTime.Add(matchWindow),
	})
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", calls.ErrNotFound
	}

	best := recs[0]
	bestDiff := math.Abs(best.StartTime.Sub(ref.StartTime).Seconds())
	for _, rec := range recs[1:] {
		if d := math.Abs(rec.StartTime.Sub(ref.StartTime).Seconds()); d < bestDiff {
			best, bestDiff = rec, d
		}
	}
	return best.CallID, nil
}
