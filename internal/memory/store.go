package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/tosin2013/documcp-sub005/internal/logging"
)

// FileMarker is the first line of every file owned by this store. Tooling
// refuses to operate on files without it so a misconfigured directory can
// never corrupt unrelated data.
const FileMarker = "#documcp-memory:v1"

// IndexFileName is the sidecar listing every entry for fast lookup without
// full partition scans.
const IndexFileName = ".index.json"

const compressedDirName = "compressed"

// IndexEntry locates one record inside a partition file. Deleted entries are
// tombstoned here rather than rewritten out of the log; Compressed entries
// live in the compressed tier instead of their original partition line.
type IndexEntry struct {
	ID             string    `json:"id"`
	File           string    `json:"file"`
	Line           int       `json:"line"`
	Type           EntryType `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	Deleted        bool      `json:"deleted,omitempty"`
	Compressed     bool      `json:"compressed,omitempty"`
	CompressedPath string    `json:"compressedPath,omitempty"`
}

type indexFile struct {
	Entries []IndexEntry `json:"entries"`
}

// Filter narrows a Load to a type subset and/or a timestamp range.
// Zero values match everything.
type Filter struct {
	Types []EntryType
	From  time.Time
	To    time.Time
}

func (f Filter) matchesType(t EntryType) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, ft := range f.Types {
		if ft == t {
			return true
		}
	}
	return false
}

func (f Filter) matchesTime(ts time.Time) bool {
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

// Stats summarizes the store for operators and the maintenance engine.
type Stats struct {
	TotalEntries  int               `json:"totalEntries"`
	EntriesByType map[EntryType]int `json:"entriesByType"`
	StorageBytes  int64             `json:"storageBytes"`
	Tombstones    int               `json:"tombstones"`
	CorruptLines  int64             `json:"corruptLines"`
}

type appendRequest struct {
	entry Entry
	reply chan appendResult
}

type appendResult struct {
	entry *Entry
	err   error
}

// Store is the append-only record store. In-process appends are serialized
// through an internal queue so index read-modify-write is atomic even under
// concurrent callers; cross-process writers are out of scope.
type Store struct {
	dir string

	// writeMu serializes the append write-plus-index sequence against
	// Compact's rewrite-and-rename. Always acquired before mu.
	writeMu sync.Mutex

	mu       sync.RWMutex
	index    map[string]IndexEntry
	order    []string       // insertion order of index entries
	nextLine map[string]int // next line number per partition file

	corrupt atomic.Int64

	appendCh chan appendRequest
	done     chan struct{}
	wg       sync.WaitGroup
	closed   bool
	closeMu  sync.Mutex
}

// NewStore opens (or initializes) a record store rooted at dir. Existing
// partition files missing the store marker fail initialization rather than
// risking silent damage to foreign data.
func NewStore(dir string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "NewStore")
	defer timer.Stop()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "create dir", Path: dir, Err: err}
	}
	if err := os.MkdirAll(filepath.Join(dir, compressedDirName), 0o755); err != nil {
		return nil, &StorageError{Op: "create dir", Path: filepath.Join(dir, compressedDirName), Err: err}
	}

	s := &Store{
		dir:      dir,
		index:    make(map[string]IndexEntry),
		nextLine: make(map[string]int),
		appendCh: make(chan appendRequest),
		done:     make(chan struct{}),
	}

	if err := s.verifyMarkers(); err != nil {
		return nil, err
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.appendLoop()

	logging.Memory("record store opened: dir=%s entries=%d", dir, len(s.index))
	return s, nil
}

// Dir returns the directory the store operates on.
func (s *Store) Dir() string { return s.dir }

// Close stops the append queue. Pending appends complete first.
func (s *Store) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *Store) verifyMarkers() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.log"))
	if err != nil {
		return &StorageError{Op: "scan", Path: s.dir, Err: err}
	}
	for _, path := range files {
		ok, err := fileHasMarker(path)
		if err != nil {
			return err
		}
		if !ok {
			return &IntegrityError{Path: path, Reason: "missing store marker; refusing to operate on foreign files"}
		}
	}
	return nil
}

func fileHasMarker(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		// Empty file: treat as unowned.
		return false, nil
	}
	return strings.TrimSpace(sc.Text()) == FileMarker, nil
}

// loadIndex reads the sidecar, or rebuilds it by scanning partitions when
// the sidecar is missing (recovery after an interrupted write).
func (s *Store) loadIndex() error {
	path := filepath.Join(s.dir, IndexFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s.rebuildIndex()
	}
	if err != nil {
		return &StorageError{Op: "read", Path: path, Err: err}
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		logging.Get(logging.CategoryMemory).Warn("index sidecar corrupt, rebuilding: %v", err)
		return s.rebuildIndex()
	}
	for _, ie := range idx.Entries {
		s.index[ie.ID] = ie
		s.order = append(s.order, ie.ID)
		if ie.Line >= s.nextLine[ie.File] {
			s.nextLine[ie.File] = ie.Line + 1
		}
	}
	return nil
}

func (s *Store) rebuildIndex() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.log"))
	if err != nil {
		return &StorageError{Op: "scan", Path: s.dir, Err: err}
	}
	sort.Strings(files)
	for _, path := range files {
		err := s.scanPartition(context.Background(), path, func(e Entry, line int) {
			if _, exists := s.index[e.ID]; exists {
				return
			}
			s.index[e.ID] = IndexEntry{
				ID: e.ID, File: filepath.Base(path), Line: line,
				Type: e.Type, Timestamp: e.Timestamp,
			}
			s.order = append(s.order, e.ID)
			s.nextLine[filepath.Base(path)] = line + 1
		})
		if err != nil {
			return err
		}
	}
	if len(s.index) > 0 {
		logging.Memory("rebuilt index from partitions: entries=%d", len(s.index))
		return s.persistIndexLocked()
	}
	return nil
}

// scanPartition streams one partition file, invoking fn per parsed entry.
// Corrupt lines are skipped and counted, never fatal to the whole scan.
func (s *Store) scanPartition(ctx context.Context, path string, fn func(Entry, int)) error {
	f, err := os.Open(path)
	if err != nil {
		return &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		text := sc.Text()
		line++
		if line == 1 {
			if strings.TrimSpace(text) != FileMarker {
				return &IntegrityError{Path: path, Reason: "missing store marker"}
			}
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil || e.ID == "" {
			s.corrupt.Add(1)
			logging.Get(logging.CategoryMemory).Warn("skipping corrupt line %d in %s", line, filepath.Base(path))
			continue
		}
		fn(e, line)
	}
	if err := sc.Err(); err != nil {
		return &StorageError{Op: "scan", Path: path, Err: err}
	}
	return nil
}

// partitionName returns the {type}_{yyyy}_{mm}.log file an entry belongs to.
func partitionName(typ EntryType, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s_%d_%02d.log", typ, ts.Year(), int(ts.Month()))
}

// parsePartitionName extracts the type and month from a partition filename.
func parsePartitionName(name string) (EntryType, time.Time, bool) {
	base := strings.TrimSuffix(name, ".log")
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return "", time.Time{}, false
	}
	year, err1 := strconv.Atoi(parts[1])
	month, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		return "", time.Time{}, false
	}
	return EntryType(parts[0]), time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

// =============================================================================
// APPEND
// =============================================================================

// Append stores an entry, computing its content-addressed ID and payload
// checksum. Appending identical type+data+metadata a second time returns the
// already-stored entry without duplicating storage.
func (s *Store) Append(ctx context.Context, e Entry) (*Entry, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Append")
	defer timer.Stop()

	if err := e.Validate(); err != nil {
		return nil, err
	}

	id, err := ContentID(e.Type, e.Data, e.Metadata)
	if err != nil {
		return nil, err
	}
	checksum, err := PayloadChecksum(e.Data)
	if err != nil {
		return nil, err
	}
	e.ID = id
	e.Checksum = checksum
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	req := appendRequest{entry: e, reply: make(chan appendResult, 1)}
	select {
	case s.appendCh <- req:
	case <-s.done:
		return nil, ErrStoreClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.entry, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// appendLoop serializes all appends so the index read-modify-write is atomic.
func (s *Store) appendLoop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.appendCh:
			entry, err := s.doAppend(req.entry)
			req.reply <- appendResult{entry: entry, err: err}
		case <-s.done:
			// Drain anything that raced the close.
			for {
				select {
				case req := <-s.appendCh:
					req.reply <- appendResult{err: ErrStoreClosed}
				default:
					return
				}
			}
		}
	}
}

func (s *Store) doAppend(e Entry) (*Entry, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	existing, dup := s.index[e.ID]
	s.mu.Unlock()

	if dup && !existing.Deleted {
		logging.MemoryDebug("idempotent append: id=%.12s already stored", e.ID)
		stored, err := s.Recall(e.ID)
		if err != nil {
			return nil, err
		}
		if stored != nil {
			return stored, nil
		}
		// Index pointed at an unreadable record; fall through and rewrite.
	}

	file := partitionName(e.Type, e.Timestamp)
	path := filepath.Join(s.dir, file)

	line, err := s.appendLine(path, e)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	ie := IndexEntry{ID: e.ID, File: file, Line: line, Type: e.Type, Timestamp: e.Timestamp}
	if _, seen := s.index[e.ID]; !seen {
		s.order = append(s.order, e.ID)
	}
	s.index[e.ID] = ie
	err = s.persistIndexLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logging.MemoryDebug("appended entry id=%.12s type=%s file=%s line=%d", e.ID, e.Type, file, line)
	return &e, nil
}

func (s *Store) appendLine(path string, e Entry) (int, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize entry: %w", err)
	}

	// Caller holds writeMu, so Compact cannot rename a rewritten partition
	// over this path between the open and the write.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	file := filepath.Base(path)
	s.mu.Lock()
	line, known := s.nextLine[file]
	s.mu.Unlock()
	if !known {
		info, err := f.Stat()
		if err != nil {
			return 0, &StorageError{Op: "stat", Path: path, Err: err}
		}
		if info.Size() == 0 {
			if _, err := f.WriteString(FileMarker + "\n"); err != nil {
				return 0, &StorageError{Op: "write marker", Path: path, Err: err}
			}
			line = 2
		} else {
			ok, err := fileHasMarker(path)
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, &IntegrityError{Path: path, Reason: "missing store marker"}
			}
			n, err := countLines(path)
			if err != nil {
				return 0, err
			}
			line = n + 1
		}
	}

	if _, err := f.Write(append(data, '\n')); err != nil {
		return 0, &StorageError{Op: "append", Path: path, Err: err}
	}

	s.mu.Lock()
	s.nextLine[file] = line + 1
	s.mu.Unlock()
	return line, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
	}
	return n, sc.Err()
}

// persistIndexLocked writes the sidecar atomically. Caller holds s.mu.
func (s *Store) persistIndexLocked() error {
	idx := indexFile{Entries: make([]IndexEntry, 0, len(s.order))}
	for _, id := range s.order {
		idx.Entries = append(idx.Entries, s.index[id])
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize index: %w", err)
	}
	path := filepath.Join(s.dir, IndexFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &StorageError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	return nil
}

// =============================================================================
// READ PATH
// =============================================================================

// Load streams every live entry matching the filter. Corrupt lines are
// skipped and counted; tombstoned entries are excluded; compressed entries
// are read back from the compressed tier.
func (s *Store) Load(ctx context.Context, f Filter) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Load")
	defer timer.StopWithThreshold(2 * time.Second)

	files, err := filepath.Glob(filepath.Join(s.dir, "*.log"))
	if err != nil {
		return nil, &StorageError{Op: "scan", Path: s.dir, Err: err}
	}
	sort.Strings(files)

	var out []Entry
	for _, path := range files {
		typ, month, ok := parsePartitionName(filepath.Base(path))
		if !ok {
			continue
		}
		if !f.matchesType(typ) {
			continue
		}
		// Skip partitions entirely outside the requested range.
		if !f.From.IsZero() && month.AddDate(0, 1, 0).Before(f.From) {
			continue
		}
		if !f.To.IsZero() && month.After(f.To) {
			continue
		}

		err := s.scanPartition(ctx, path, func(e Entry, line int) {
			s.mu.RLock()
			ie, known := s.index[e.ID]
			s.mu.RUnlock()
			// Only the index's canonical line is live. A delete followed by
			// an identical re-append leaves the old line on disk until the
			// next Compact.
			if !known || ie.Deleted || ie.Compressed {
				return
			}
			if ie.File != filepath.Base(path) || ie.Line != line {
				return
			}
			if f.matchesTime(e.Timestamp) {
				out = append(out, e)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	compressed, err := s.loadCompressed(ctx, f)
	if err != nil {
		return nil, err
	}
	out = append(out, compressed...)

	logging.MemoryDebug("loaded %d entries (filter types=%v)", len(out), f.Types)
	return out, nil
}

func (s *Store) loadCompressed(ctx context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	var candidates []IndexEntry
	for _, id := range s.order {
		ie := s.index[id]
		if ie.Compressed && !ie.Deleted && f.matchesType(ie.Type) && f.matchesTime(ie.Timestamp) {
			candidates = append(candidates, ie)
		}
	}
	s.mu.RUnlock()

	var out []Entry
	for _, ie := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := readCompressedEntry(ie.CompressedPath)
		if err != nil {
			logging.Get(logging.CategoryMemory).Warn("skipping unreadable compressed entry %.12s: %v", ie.ID, err)
			s.corrupt.Add(1)
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

// Recall returns one entry by ID, or nil when it does not exist (or has been
// deleted). A checksum mismatch on read is an integrity error.
func (s *Store) Recall(id string) (*Entry, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Recall")
	defer timer.Stop()

	s.mu.RLock()
	ie, ok := s.index[id]
	s.mu.RUnlock()
	if !ok || ie.Deleted {
		return nil, nil
	}

	var entry *Entry
	var err error
	if ie.Compressed {
		entry, err = readCompressedEntry(ie.CompressedPath)
	} else {
		entry, err = s.readPartitionLine(filepath.Join(s.dir, ie.File), ie.Line)
	}
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	want, err := PayloadChecksum(entry.Data)
	if err != nil {
		return nil, err
	}
	if entry.Checksum != want {
		return nil, &IntegrityError{ID: id, Reason: "payload checksum mismatch"}
	}
	return entry, nil
}

func (s *Store) readPartitionLine(path string, line int) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	n := 0
	for sc.Scan() {
		n++
		if n == line {
			var e Entry
			if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
				return nil, &IntegrityError{Path: path, Reason: fmt.Sprintf("corrupt record at line %d", line)}
			}
			return &e, nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &StorageError{Op: "scan", Path: path, Err: err}
	}
	return nil, nil
}

func readCompressedEntry(path string) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, &IntegrityError{Path: path, Reason: "corrupt gzip header"}
	}
	defer zr.Close()
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, &IntegrityError{Path: path, Reason: "corrupt gzip stream"}
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &IntegrityError{Path: path, Reason: "corrupt compressed record"}
	}
	return &e, nil
}

// =============================================================================
// DELETE / COMPRESS / COMPACT
// =============================================================================

// Delete tombstones an entry in the index. The partition line stays on disk
// until the next Compact, which keeps delete O(1). Returns false when the ID
// is unknown or already deleted.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ie, ok := s.index[id]
	if !ok || ie.Deleted {
		return false, nil
	}
	if ie.Compressed && ie.CompressedPath != "" {
		if err := os.Remove(ie.CompressedPath); err != nil && !os.IsNotExist(err) {
			return false, &StorageError{Op: "remove", Path: ie.CompressedPath, Err: err}
		}
	}
	ie.Deleted = true
	s.index[id] = ie
	if err := s.persistIndexLocked(); err != nil {
		return false, err
	}
	logging.MemoryDebug("tombstoned entry id=%.12s", id)
	return true, nil
}

// MarkCompressed moves an entry's canonical location to the compressed tier.
// The original partition line becomes dead weight reclaimed by Compact.
func (s *Store) MarkCompressed(id, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ie, ok := s.index[id]
	if !ok || ie.Deleted {
		return &ValidationError{Field: "id", Reason: fmt.Sprintf("unknown or deleted entry %q", id)}
	}
	ie.Compressed = true
	ie.CompressedPath = path
	s.index[id] = ie
	return s.persistIndexLocked()
}

// CompressedDir returns the directory compressed entries are written to.
func (s *Store) CompressedDir() string {
	return filepath.Join(s.dir, compressedDirName)
}

// Compact physically rewrites partition files, dropping tombstoned and
// compressed lines. Deferred from Delete so evicting records never rewrites
// large files one delete at a time. Safe to run concurrently with Append.
func (s *Store) Compact(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryMemory, "Compact")
	defer timer.StopWithThreshold(5 * time.Second)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	files, err := filepath.Glob(filepath.Join(s.dir, "*.log"))
	if err != nil {
		return &StorageError{Op: "scan", Path: s.dir, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.compactPartitionLocked(ctx, path); err != nil {
			return err
		}
	}

	// Drop tombstones from the index now that their lines are gone.
	kept := s.order[:0]
	for _, id := range s.order {
		if s.index[id].Deleted {
			delete(s.index, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return s.persistIndexLocked()
}

func (s *Store) compactPartitionLocked(ctx context.Context, path string) error {
	file := filepath.Base(path)
	tmp := path + ".compact"

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &StorageError{Op: "open", Path: tmp, Err: err}
	}
	if _, err := out.WriteString(FileMarker + "\n"); err != nil {
		out.Close()
		return &StorageError{Op: "write marker", Path: tmp, Err: err}
	}

	line := 1
	scanErr := s.scanPartition(ctx, path, func(e Entry, scanned int) {
		ie, known := s.index[e.ID]
		if !known || ie.Deleted || ie.Compressed {
			return
		}
		// Keep only the canonical line for each ID; stale lines left behind
		// by a delete-then-reappend cycle are dropped here.
		if ie.File != file || ie.Line != scanned {
			return
		}
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		if _, err := out.Write(append(data, '\n')); err != nil {
			return
		}
		line++
		ie.Line = line
		s.index[e.ID] = ie
	})
	if err := out.Close(); err != nil {
		return &StorageError{Op: "close", Path: tmp, Err: err}
	}
	if scanErr != nil {
		_ = os.Remove(tmp)
		return scanErr
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Op: "rename", Path: path, Err: err}
	}
	s.nextLine[file] = line + 1
	return nil
}

// =============================================================================
// STATS
// =============================================================================

// GetStats reports live entry counts, on-disk size, and corruption counters.
func (s *Store) GetStats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{EntriesByType: make(map[EntryType]int), CorruptLines: s.corrupt.Load()}
	for _, ie := range s.index {
		if ie.Deleted {
			stats.Tombstones++
			continue
		}
		stats.TotalEntries++
		stats.EntriesByType[ie.Type]++
	}

	size, err := dirSize(s.dir)
	if err != nil {
		return stats, err
	}
	stats.StorageBytes = size
	return stats, nil
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, &StorageError{Op: "stat", Path: dir, Err: err}
	}
	return total, nil
}
