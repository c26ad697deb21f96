package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pbaille/followup/internal/domain"
)

// IngestFunc hands one decoded event to the engine.
type IngestFunc func(ctx context.Context, ev domain.RawEvent) error

const (
	payloadExt = ".json"
	doneExt    = ".done"
	failedExt  = ".failed"

	defaultSettle = 250 * time.Millisecond
)

// SpoolWatcher ingests payload files dropped into Dir. Each *.json file is
// decoded and every event passed to Ingest; the file is then renamed to
// *.done, or *.failed when it could not be decoded. Producers should
// write elsewhere and rename into Dir; Settle absorbs in-place writes.
type SpoolWatcher struct {
	Dir     string
	Decoder Decoder
	Ingest  IngestFunc
	Logger  *slog.Logger
	Settle  time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	wg      sync.WaitGroup
}

// SpoolResult summarises one processed file.
type SpoolResult struct {
	Events int
	Failed int
}

func (w *SpoolWatcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run processes files already in Dir, then watches it until ctx is done.
func (w *SpoolWatcher) Run(ctx context.Context) error {
	if w.Ingest == nil {
		return errors.New("spool: no ingest func")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.Dir, err)
	}

	if err := w.Drain(ctx); err != nil {
		w.logger().Warn("spool_drain_failed", "dir", w.Dir, "error", err)
	}

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isPayload(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.schedule(ctx, event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger().Warn("spool_watch_error", "error", err)
		}
	}
}

// Drain processes every payload file currently in Dir in name order.
func (w *SpoolWatcher) Drain(ctx context.Context) error {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return fmt.Errorf("read spool dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && isPayload(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.ProcessFile(ctx, filepath.Join(w.Dir, name)); err != nil {
			w.logger().Warn("spool_file_failed", "file", name, "error", err)
		}
	}
	return nil
}

// schedule debounces events for path so a file is read once it settles.
func (w *SpoolWatcher) schedule(ctx context.Context, path string) {
	settle := w.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		w.pending = make(map[string]*time.Timer)
	}
	if t, ok := w.pending[path]; ok && t.Stop() {
		t.Reset(settle)
		return
	}
	w.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == timer {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		if _, err := w.ProcessFile(ctx, path); err != nil {
			w.logger().Warn("spool_file_failed", "file", filepath.Base(path), "error", err)
		}
	})
	w.pending[path] = timer
}

func (w *SpoolWatcher) stop() {
	w.mu.Lock()
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// ProcessFile ingests one payload file and renames it. A file that has
// already been moved away is ignored.
func (w *SpoolWatcher) ProcessFile(ctx context.Context, path string) (SpoolResult, error) {
	var res SpoolResult
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	events, err := w.Decoder.Decode(data)
	if err != nil {
		if rerr := rename(path, failedExt); rerr != nil {
			return res, rerr
		}
		return res, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	for _, ev := range events {
		res.Events++
		if err := w.Ingest(ctx, ev); err != nil {
			res.Failed++
			w.logger().Warn("spool_event_rejected", "file", filepath.Base(path), "error", err)
		}
	}
	w.logger().Info("spool_file_ingested", "file", filepath.Base(path), "events", res.Events, "failed", res.Failed)
	return res, rename(path, doneExt)
}

func isPayload(name string) bool {
	return strings.HasSuffix(name, payloadExt) && !strings.HasPrefix(filepath.Base(name), ".")
}

func rename(path, ext string) error {
	target := strings.TrimSuffix(path, payloadExt) + ext
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
