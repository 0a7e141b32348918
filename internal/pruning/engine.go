package pruning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tosin2013/documcp-sub005/internal/logging"
	"github.com/tosin2013/documcp-sub005/internal/memory"
)

// ErrMaintenanceBusy is returned when a run is requested while another is
// still in flight.
var ErrMaintenanceBusy = errors.New("pruning: maintenance run already in progress")

const backupDirName = "backups"

// RecordStore is the slice of the record store the engine operates on.
// *memory.Store satisfies it; tests substitute failing fakes.
type RecordStore interface {
	Dir() string
	Load(ctx context.Context, f memory.Filter) ([]memory.Entry, error)
	Recall(id string) (*memory.Entry, error)
	Delete(id string) (bool, error)
	MarkCompressed(id, path string) error
	CompressedDir() string
	GetStats() (memory.Stats, error)
}

// EntryError records a single failed operation inside an otherwise
// successful run.
type EntryError struct {
	ID     string `json:"id"`
	Op     string `json:"op"`
	Reason string `json:"reason"`
}

func (e EntryError) Error() string {
	return fmt.Sprintf("pruning: %s %.12s: %s", e.Op, e.ID, e.Reason)
}

// Result summarizes a completed maintenance run.
type Result struct {
	RunID             string        `json:"runId"`
	StartedAt         time.Time     `json:"startedAt"`
	Duration          time.Duration `json:"duration"`
	EntriesRemoved    int           `json:"entriesRemoved"`
	EntriesCompressed int           `json:"entriesCompressed"`
	BytesReclaimed    int64         `json:"bytesReclaimed"`
	BackupPath        string        `json:"backupPath,omitempty"`
	ValidationPassed  bool          `json:"validationPassed"`
	Errors            []EntryError  `json:"errors,omitempty"`
}

// Metrics reports the engine's view of store health after its last run.
type Metrics struct {
	TotalEntries     int       `json:"totalEntries"`
	StorageBytes     int64     `json:"storageBytes"`
	Tombstones       int       `json:"tombstones"`
	LastOptimization time.Time `json:"lastOptimization"`
	PerformanceGain  float64   `json:"performanceGain"`
}

// Engine drives eviction, compression, and dedup over a record store under
// a retention policy.
type Engine struct {
	store    RecordStore
	strategy Strategy

	mu     sync.RWMutex // guards policy and metrics
	policy Policy

	busy atomic.Bool

	lastOptimization time.Time
	performanceGain  float64

	subMu       sync.Mutex
	subscribers map[int]func(Event)
	nextSub     int

	schedMu   sync.Mutex
	schedStop chan struct{}
	schedDone chan struct{}

	now func() time.Time
}

// NewEngine validates the policy and returns an engine bound to the store.
// Any positive policy is accepted here; the stricter runtime floors apply
// only to UpdatePolicy.
func NewEngine(store RecordStore, policy Policy) (*Engine, error) {
	if store == nil {
		return nil, errors.New("pruning: nil record store")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		store:       store,
		strategy:    NewGzipStrategy(),
		policy:      policy,
		subscribers: make(map[int]func(Event)),
		now:         time.Now,
	}, nil
}

// Policy returns a copy of the active policy.
func (e *Engine) Policy() Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p := e.policy
	p.PreservePatterns = append([]string(nil), e.policy.PreservePatterns...)
	p.matchers = e.policy.matchers
	return p
}

// UpdatePolicy merges a partial update into the active policy. The merged
// policy is validated as a whole before it replaces the old one; on any
// rejection the previous policy stays in force untouched.
func (e *Engine) UpdatePolicy(patch Patch) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.policy.apply(patch)
	if err := next.validateForUpdate(); err != nil {
		return err
	}
	e.policy = next
	logging.Pruning("policy updated: maxAge=%vd maxSize=%vMB maxEntries=%d",
		next.MaxAgeDays, next.MaxSizeMB, next.MaxEntries)
	return nil
}

// ExecutePruning runs one full maintenance pass: candidate identification,
// optional backup, parallel eviction, then compression of surviving cold
// entries. Individual entry failures are accumulated in the result rather
// than aborting the run; only environmental failures (store unreadable,
// backup impossible) return an error.
func (e *Engine) ExecutePruning(ctx context.Context) (*Result, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrMaintenanceBusy
	}
	defer e.busy.Store(false)

	timer := logging.StartTimer(logging.CategoryPruning, "ExecutePruning")
	defer timer.Stop()

	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
	}
	policy := e.Policy()

	statsBefore, err := e.store.GetStats()
	if err != nil {
		e.emitFailed(res, err)
		return nil, err
	}

	candidates, err := e.IdentifyPruningCandidates(ctx)
	if err != nil {
		e.emitFailed(res, err)
		return nil, err
	}
	compressible, err := e.IdentifyCompressionCandidates(ctx, candidates)
	if err != nil {
		e.emitFailed(res, err)
		return nil, err
	}

	counts := candidates.Counts()
	counts.Compression = len(compressible)
	e.emit(Event{Type: EventPruningStarted, RunID: res.RunID, Candidates: counts})

	if policy.BackupBeforePrune {
		path, err := e.backupRecords()
		if err != nil {
			e.emitFailed(res, err)
			return nil, fmt.Errorf("pruning: backup before prune: %w", err)
		}
		res.BackupPath = path
	}

	removed := e.deleteCandidates(ctx, candidates.IDs(), policy.Parallelism, res)
	res.EntriesRemoved = removed

	res.EntriesCompressed = e.compressEntries(ctx, compressible, res)

	res.ValidationPassed = e.validateRun(candidates.IDs(), res)

	statsAfter, err := e.store.GetStats()
	if err == nil {
		res.BytesReclaimed = statsBefore.StorageBytes - statsAfter.StorageBytes
		if res.BytesReclaimed < 0 {
			res.BytesReclaimed = 0
		}
		e.mu.Lock()
		e.lastOptimization = e.now()
		if statsBefore.StorageBytes > 0 {
			e.performanceGain = float64(res.BytesReclaimed) / float64(statsBefore.StorageBytes)
		}
		e.mu.Unlock()
	}

	res.Duration = e.now().Sub(res.StartedAt)
	logging.Pruning("run %.8s: removed=%d compressed=%d errors=%d in %s",
		res.RunID, res.EntriesRemoved, res.EntriesCompressed, len(res.Errors), res.Duration)
	e.emit(Event{Type: EventPruningCompleted, RunID: res.RunID, Candidates: counts, Result: res})
	return res, nil
}

func (e *Engine) emitFailed(res *Result, err error) {
	e.emit(Event{Type: EventPruningFailed, RunID: res.RunID, Err: err.Error()})
}

// deleteCandidates evicts the given IDs with bounded parallelism. Each
// failure becomes an EntryError on the result; successes are counted even
// when siblings fail.
func (e *Engine) deleteCandidates(ctx context.Context, ids []string, parallelism int, res *Result) int {
	if len(ids) == 0 {
		return 0
	}
	var removed atomic.Int64
	var errMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			ok, err := e.store.Delete(id)
			if err != nil {
				errMu.Lock()
				res.Errors = append(res.Errors, EntryError{ID: id, Op: "delete", Reason: err.Error()})
				errMu.Unlock()
				return nil
			}
			if ok {
				removed.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	return int(removed.Load())
}

// compressEntries runs the compression strategy over the candidates,
// writes each packed payload as a sidecar file, and points the store's
// index at it.
func (e *Engine) compressEntries(ctx context.Context, entries []memory.Entry, res *Result) int {
	compressed := 0
	for i := range entries {
		if ctx.Err() != nil {
			break
		}
		entry := &entries[i]
		target := filepath.Join(e.store.CompressedDir(), entry.ID+".json.gz")
		if _, err := os.Stat(target); err == nil {
			// Already in the compressed tier from an earlier run.
			continue
		}
		cres, packed := CompressEntry(entry, e.strategy)
		if cres.Err != "" {
			res.Errors = append(res.Errors, EntryError{ID: entry.ID, Op: "compress", Reason: cres.Err})
			continue
		}
		if !cres.Compressed {
			continue
		}
		path := target
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			res.Errors = append(res.Errors, EntryError{ID: entry.ID, Op: "compress", Reason: err.Error()})
			continue
		}
		if err := os.WriteFile(path, packed, 0o644); err != nil {
			res.Errors = append(res.Errors, EntryError{ID: entry.ID, Op: "compress", Reason: err.Error()})
			continue
		}
		if err := e.store.MarkCompressed(entry.ID, path); err != nil {
			os.Remove(path)
			res.Errors = append(res.Errors, EntryError{ID: entry.ID, Op: "compress", Reason: err.Error()})
			continue
		}
		compressed++
	}
	return compressed
}

// validateRun spot-checks post-conditions: every successfully evicted ID
// must no longer be recallable. IDs that failed with a recorded error are
// expected to remain.
func (e *Engine) validateRun(ids []string, res *Result) bool {
	failed := make(map[string]struct{}, len(res.Errors))
	for _, ee := range res.Errors {
		if ee.Op == "delete" {
			failed[ee.ID] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := failed[id]; ok {
			continue
		}
		entry, err := e.store.Recall(id)
		if err != nil || entry != nil {
			logging.Get(logging.CategoryPruning).Warn("validation: entry %.12s still recallable after eviction", id)
			return false
		}
	}
	return true
}

// backupRecords copies the store's log files and index sidecar into a
// timestamped directory before any destructive work.
func (e *Engine) backupRecords() (string, error) {
	src := e.store.Dir()
	dst := filepath.Join(src, backupDirName, "records-"+e.now().UTC().Format("20060102-150405.000000000"))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	names, err := os.ReadDir(src)
	if err != nil {
		return "", err
	}
	for _, de := range names {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if !strings.HasSuffix(name, ".log") && name != memory.IndexFileName {
			continue
		}
		if err := copyFile(filepath.Join(src, name), filepath.Join(dst, name)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// GetOptimizationMetrics reports store health plus the outcome of the most
// recent run.
func (e *Engine) GetOptimizationMetrics() (Metrics, error) {
	stats, err := e.store.GetStats()
	if err != nil {
		return Metrics{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Metrics{
		TotalEntries:     stats.TotalEntries,
		StorageBytes:     stats.StorageBytes,
		Tombstones:       stats.Tombstones,
		LastOptimization: e.lastOptimization,
		PerformanceGain:  e.performanceGain,
	}, nil
}

// ListBackups returns record backups newest-last.
func (e *Engine) ListBackups() ([]string, error) {
	dir := filepath.Join(e.store.Dir(), backupDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, de := range entries {
		if de.IsDir() && strings.HasPrefix(de.Name(), "records-") {
			out = append(out, filepath.Join(dir, de.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
