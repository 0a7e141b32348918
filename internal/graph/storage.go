package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tosin2013/documcp-sub005/internal/logging"
)

// FileMarker is the first line of every file owned by graph storage.
const FileMarker = "#documcp-graph:v1"

// SchemaVersion is written into exports and reported by GetStatistics.
const SchemaVersion = "1.0.0"

const (
	entitiesFileName      = "knowledge-graph-entities.jsonl"
	relationshipsFileName = "knowledge-graph-relationships.jsonl"
	backupDirName         = "backups"
)

// Kind selects which of the two graph tables an operation applies to.
type Kind string

const (
	KindEntities      Kind = "entities"
	KindRelationships Kind = "relationships"
)

// StorageOptions tune backup behavior.
type StorageOptions struct {
	BackupsEnabled  bool
	BackupRetention int // newest N backups kept per kind; 0 means keep all
}

// Storage persists graph nodes and edges as marker-prefixed JSONL tables
// with backup-on-write. Writes are last-writer-wins at the file level but
// always recoverable via the backup taken first.
type Storage struct {
	dir  string
	opts StorageOptions
}

// VerifyResult reports the outcome of an integrity verification pass.
// Errors flip Valid to false; warnings do not.
type VerifyResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Statistics reports table sizes for operators and maintenance health checks.
type Statistics struct {
	EntityCount            int    `json:"entityCount"`
	RelationshipCount      int    `json:"relationshipCount"`
	SchemaVersion          string `json:"schemaVersion"`
	EntitiesFileBytes      int64  `json:"entitiesFileBytes"`
	RelationshipsFileBytes int64  `json:"relationshipsFileBytes"`
}

// NewStorage opens graph storage rooted at dir. Existing graph files missing
// the marker fail initialization to prevent silent loss of foreign data.
func NewStorage(dir string, opts StorageOptions) (*Storage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "create dir", Path: dir, Err: err}
	}
	st := &Storage{dir: dir, opts: opts}
	for _, name := range []string{entitiesFileName, relationshipsFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		ok, err := fileHasMarker(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &IntegrityError{Path: path, Reason: "missing graph marker; refusing to operate on foreign files"}
		}
	}
	logging.Graph("graph storage opened: dir=%s backups=%v", dir, opts.BackupsEnabled)
	return st, nil
}

func fileHasMarker(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return false, nil
	}
	return strings.TrimSpace(sc.Text()) == FileMarker, nil
}

// =============================================================================
// SAVE / LOAD
// =============================================================================

// SaveEntities overwrites the entities table, backing up the previous
// version first when backups are enabled.
func (s *Storage) SaveEntities(nodes []Node) error {
	timer := logging.StartTimer(logging.CategoryGraph, "SaveEntities")
	defer timer.Stop()

	for i := range nodes {
		if err := nodes[i].validate(); err != nil {
			return err
		}
	}
	rows := make([]any, len(nodes))
	for i := range nodes {
		rows[i] = nodes[i]
	}
	return s.saveTable(KindEntities, rows)
}

// SaveRelationships overwrites the relationships table, backing up the
// previous version first when backups are enabled.
func (s *Storage) SaveRelationships(edges []Edge) error {
	timer := logging.StartTimer(logging.CategoryGraph, "SaveRelationships")
	defer timer.Stop()

	for i := range edges {
		if err := edges[i].validate(); err != nil {
			return err
		}
	}
	rows := make([]any, len(edges))
	for i := range edges {
		rows[i] = edges[i]
	}
	return s.saveTable(KindRelationships, rows)
}

// SaveGraph persists nodes and edges as a pair. Both tables are staged to
// temporary files before either rename, so a failure mid-save leaves the
// previous pair intact.
func (s *Storage) SaveGraph(nodes []Node, edges []Edge) error {
	timer := logging.StartTimer(logging.CategoryGraph, "SaveGraph")
	defer timer.Stop()

	for i := range nodes {
		if err := nodes[i].validate(); err != nil {
			return err
		}
	}
	for i := range edges {
		if err := edges[i].validate(); err != nil {
			return err
		}
	}

	nodeRows := make([]any, len(nodes))
	for i := range nodes {
		nodeRows[i] = nodes[i]
	}
	edgeRows := make([]any, len(edges))
	for i := range edges {
		edgeRows[i] = edges[i]
	}

	entTmp, err := s.stageTable(entitiesFileName, nodeRows)
	if err != nil {
		return err
	}
	relTmp, err := s.stageTable(relationshipsFileName, edgeRows)
	if err != nil {
		_ = os.Remove(entTmp)
		return err
	}

	if err := s.backup(KindEntities); err != nil {
		_ = os.Remove(entTmp)
		_ = os.Remove(relTmp)
		return err
	}
	if err := s.backup(KindRelationships); err != nil {
		_ = os.Remove(entTmp)
		_ = os.Remove(relTmp)
		return err
	}

	if err := os.Rename(entTmp, filepath.Join(s.dir, entitiesFileName)); err != nil {
		_ = os.Remove(entTmp)
		_ = os.Remove(relTmp)
		return &StorageError{Op: "rename", Path: entitiesFileName, Err: err}
	}
	if err := os.Rename(relTmp, filepath.Join(s.dir, relationshipsFileName)); err != nil {
		_ = os.Remove(relTmp)
		return &StorageError{Op: "rename", Path: relationshipsFileName, Err: err}
	}

	logging.Graph("graph saved: %d entities, %d relationships", len(nodes), len(edges))
	return nil
}

func (s *Storage) saveTable(kind Kind, rows []any) error {
	name := s.fileFor(kind)
	tmp, err := s.stageTable(name, rows)
	if err != nil {
		return err
	}
	if err := s.backup(kind); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Op: "rename", Path: name, Err: err}
	}
	logging.GraphDebug("saved %s: %d rows", kind, len(rows))
	return nil
}

// stageTable writes rows to a temporary marker-prefixed file and returns its
// path; the caller renames it into place.
func (s *Storage) stageTable(name string, rows []any) (string, error) {
	tmp := filepath.Join(s.dir, name+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", &StorageError{Op: "open", Path: tmp, Err: err}
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(FileMarker + "\n"); err != nil {
		f.Close()
		return "", &StorageError{Op: "write", Path: tmp, Err: err}
	}
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			f.Close()
			return "", fmt.Errorf("graph: failed to serialize row: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return "", &StorageError{Op: "write", Path: tmp, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return "", &StorageError{Op: "flush", Path: tmp, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &StorageError{Op: "close", Path: tmp, Err: err}
	}
	return tmp, nil
}

// LoadEntities reads the entities table. A missing file is an empty graph,
// not an error; corrupt lines are skipped with a warning.
func (s *Storage) LoadEntities() ([]Node, error) {
	var nodes []Node
	err := s.loadTable(KindEntities, func(line []byte) {
		var n Node
		if err := json.Unmarshal(line, &n); err != nil || n.ID == "" {
			logging.Get(logging.CategoryGraph).Warn("skipping corrupt entity row: %v", err)
			return
		}
		nodes = append(nodes, n)
	})
	return nodes, err
}

// LoadRelationships reads the relationships table.
func (s *Storage) LoadRelationships() ([]Edge, error) {
	var edges []Edge
	err := s.loadTable(KindRelationships, func(line []byte) {
		var e Edge
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			logging.Get(logging.CategoryGraph).Warn("skipping corrupt relationship row: %v", err)
			return
		}
		edges = append(edges, e)
	})
	return edges, err
}

// LoadGraph reads both tables.
func (s *Storage) LoadGraph() ([]Node, []Edge, error) {
	nodes, err := s.LoadEntities()
	if err != nil {
		return nil, nil, err
	}
	edges, err := s.LoadRelationships()
	if err != nil {
		return nil, nil, err
	}
	return nodes, edges, nil
}

func (s *Storage) loadTable(kind Kind, fn func([]byte)) error {
	path := filepath.Join(s.dir, s.fileFor(kind))
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return &StorageError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for sc.Scan() {
		if first {
			first = false
			if strings.TrimSpace(sc.Text()) != FileMarker {
				return &IntegrityError{Path: path, Reason: "missing graph marker"}
			}
			continue
		}
		fn(sc.Bytes())
	}
	if err := sc.Err(); err != nil {
		return &StorageError{Op: "scan", Path: path, Err: err}
	}
	return nil
}

func (s *Storage) fileFor(kind Kind) string {
	if kind == KindRelationships {
		return relationshipsFileName
	}
	return entitiesFileName
}

// =============================================================================
// BACKUP / RESTORE
// =============================================================================

// backup copies the current table file into the backup directory, then
// prunes backups beyond the retention count. No-op when backups are disabled
// or no file exists yet.
func (s *Storage) backup(kind Kind) error {
	if !s.opts.BackupsEnabled {
		return nil
	}
	src := filepath.Join(s.dir, s.fileFor(kind))
	if _, err := os.Stat(src); os.IsNotExist(err) {
		return nil
	}

	backupDir := filepath.Join(s.dir, backupDirName)
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return &StorageError{Op: "create dir", Path: backupDir, Err: err}
	}

	// Nanosecond timestamps keep names unique and lexically sortable.
	ts := time.Now().UTC().Format("20060102-150405.000000000")
	dst := filepath.Join(backupDir, fmt.Sprintf("%s-%s.jsonl", kind, ts))
	if err := copyFile(src, dst); err != nil {
		return err
	}
	logging.GraphDebug("backed up %s to %s", kind, filepath.Base(dst))
	return s.rotateBackups(kind)
}

func (s *Storage) rotateBackups(kind Kind) error {
	if s.opts.BackupRetention <= 0 {
		return nil
	}
	backups, err := s.listBackups(kind)
	if err != nil {
		return err
	}
	for len(backups) > s.opts.BackupRetention {
		oldest := backups[0]
		if err := os.Remove(oldest); err != nil {
			return &StorageError{Op: "remove", Path: oldest, Err: err}
		}
		logging.GraphDebug("rotated out old backup %s", filepath.Base(oldest))
		backups = backups[1:]
	}
	return nil
}

func (s *Storage) listBackups(kind Kind) ([]string, error) {
	pattern := filepath.Join(s.dir, backupDirName, string(kind)+"-*.jsonl")
	backups, err := filepath.Glob(pattern)
	if err != nil {
		return nil, &StorageError{Op: "scan", Path: pattern, Err: err}
	}
	sort.Strings(backups)
	return backups, nil
}

// RestoreFromBackup replaces the current table with the most recent backup
// for the given kind. Entities and relationships restore independently.
func (s *Storage) RestoreFromBackup(kind Kind) error {
	timer := logging.StartTimer(logging.CategoryGraph, "RestoreFromBackup")
	defer timer.Stop()

	if kind != KindEntities && kind != KindRelationships {
		return &ValidationError{Kind: "backup", Reason: fmt.Sprintf("unknown kind %q", kind)}
	}
	backups, err := s.listBackups(kind)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		return &StorageError{Op: "restore", Path: string(kind), Err: os.ErrNotExist}
	}

	latest := backups[len(backups)-1]
	dst := filepath.Join(s.dir, s.fileFor(kind))
	if err := copyFile(latest, dst); err != nil {
		return err
	}
	logging.Graph("restored %s from backup %s", kind, filepath.Base(latest))
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &StorageError{Op: "open", Path: src, Err: err}
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &StorageError{Op: "open", Path: tmp, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return &StorageError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return &StorageError{Op: "rename", Path: dst, Err: err}
	}
	return nil
}

// =============================================================================
// INTEGRITY / STATISTICS / EXPORT
// =============================================================================

// VerifyIntegrity checks both tables. Duplicate entity IDs are errors (they
// corrupt identity); edges whose endpoints do not resolve are warnings,
// since dangling edges are a normal transient state during incremental
// construction.
func (s *Storage) VerifyIntegrity() (VerifyResult, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "VerifyIntegrity")
	defer timer.Stop()

	result := VerifyResult{Valid: true}

	nodes, err := s.LoadEntities()
	if err != nil {
		return result, err
	}
	edges, err := s.LoadRelationships()
	if err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n.ID] {
			result.Errors = append(result.Errors, fmt.Sprintf("duplicate entity ID %q", n.ID))
			result.Valid = false
			continue
		}
		seen[n.ID] = true
	}

	edgeIDs := make(map[string]bool, len(edges))
	for _, e := range edges {
		if edgeIDs[e.ID] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("duplicate relationship ID %q", e.ID))
		}
		edgeIDs[e.ID] = true
		if !seen[e.Source] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("edge %q references missing source %q", e.ID, e.Source))
		}
		if !seen[e.Target] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("edge %q references missing target %q", e.ID, e.Target))
		}
	}

	logging.Graph("integrity check: valid=%v errors=%d warnings=%d", result.Valid, len(result.Errors), len(result.Warnings))
	return result, nil
}

// GetStatistics reports table counts, schema version, and on-disk sizes.
func (s *Storage) GetStatistics() (Statistics, error) {
	nodes, edges, err := s.LoadGraph()
	if err != nil {
		return Statistics{}, err
	}
	stats := Statistics{
		EntityCount:       len(nodes),
		RelationshipCount: len(edges),
		SchemaVersion:     SchemaVersion,
	}
	if info, err := os.Stat(filepath.Join(s.dir, entitiesFileName)); err == nil {
		stats.EntitiesFileBytes = info.Size()
	}
	if info, err := os.Stat(filepath.Join(s.dir, relationshipsFileName)); err == nil {
		stats.RelationshipsFileBytes = info.Size()
	}
	return stats, nil
}

// Snapshot is the export/import wire format external migration tooling
// relies on.
type Snapshot struct {
	Metadata      SnapshotMetadata `json:"metadata"`
	Entities      []Node           `json:"entities"`
	Relationships []Edge           `json:"relationships"`
}

// SnapshotMetadata is the header of an exported snapshot.
type SnapshotMetadata struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exportedAt"`
}

// ExportJSON writes a full snapshot of both tables.
func (s *Storage) ExportJSON(w io.Writer) error {
	timer := logging.StartTimer(logging.CategoryGraph, "ExportJSON")
	defer timer.Stop()

	nodes, edges, err := s.LoadGraph()
	if err != nil {
		return err
	}
	snap := Snapshot{
		Metadata:      SnapshotMetadata{Version: SchemaVersion, ExportedAt: time.Now().UTC()},
		Entities:      nodes,
		Relationships: edges,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// ImportJSON replaces both tables with the contents of a snapshot.
func (s *Storage) ImportJSON(r io.Reader) error {
	timer := logging.StartTimer(logging.CategoryGraph, "ImportJSON")
	defer timer.Stop()

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("graph: failed to parse snapshot: %w", err)
	}
	if snap.Metadata.Version == "" {
		return &ValidationError{Kind: "snapshot", Reason: "missing metadata version"}
	}
	logging.Graph("importing snapshot: version=%s entities=%d relationships=%d",
		snap.Metadata.Version, len(snap.Entities), len(snap.Relationships))
	return s.SaveGraph(snap.Entities, snap.Relationships)
}
