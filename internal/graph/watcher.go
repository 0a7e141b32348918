package graph

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tosin2013/documcp-sub005/internal/logging"
	"github.com/tosin2013/documcp-sub005/internal/memory"
)

// Watcher triggers debounced graph rebuilds when record partition files
// change. Optional: the graph works fine with manual rebuilds only.
type Watcher struct {
	graph    *KnowledgeGraph
	store    *memory.Store
	debounce time.Duration

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewWatcher creates a watcher over the store's directory. Start must be
// called before any rebuilds happen.
func NewWatcher(g *KnowledgeGraph, store *memory.Store, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{graph: g, store: store, debounce: debounce}
}

// Start begins watching. Rebuilds run on the watcher goroutine; overlapping
// bursts of writes collapse into one rebuild per debounce window.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return &StorageError{Op: "watch", Path: w.store.Dir(), Err: err}
	}
	if err := fsw.Add(w.store.Dir()); err != nil {
		fsw.Close()
		return &StorageError{Op: "watch", Path: w.store.Dir(), Err: err}
	}
	w.fsw = fsw

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.started = true

	w.wg.Add(1)
	go w.loop(ctx)

	logging.Graph("rebuild watcher started on %s (debounce %v)", w.store.Dir(), w.debounce)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".log") {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			logging.GraphDebug("partition change detected: %s", ev.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-timerC:
			if err := w.graph.BuildFromMemories(ctx, w.store); err != nil && ctx.Err() == nil {
				logging.Get(logging.CategoryGraph).Error("watch-triggered rebuild failed: %v", err)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryGraph).Warn("watcher error: %v", err)
		}
	}
}

// Stop halts watching and waits for the watcher goroutine to exit. Safe to
// call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.cancel()
	_ = w.fsw.Close()
	w.wg.Wait()
	w.started = false
	logging.Graph("rebuild watcher stopped")
}
