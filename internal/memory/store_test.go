package memory

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustAppend(t *testing.T, s *Store, typ EntryType, data, metadata map[string]any) *Entry {
	t.Helper()
	e, err := s.Append(context.Background(), Entry{Type: typ, Data: data, Metadata: metadata})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	return e
}

func TestAppendComputesContentIDAndChecksum(t *testing.T) {
	s := newTestStore(t)

	data := map[string]any{"finding": "missing readme"}
	meta := map[string]any{MetaProjectID: "proj-1"}
	e := mustAppend(t, s, TypeAnalysis, data, meta)

	wantID, err := ContentID(TypeAnalysis, data, meta)
	if err != nil {
		t.Fatalf("ContentID failed: %v", err)
	}
	if e.ID != wantID {
		t.Errorf("ID = %s, want %s", e.ID, wantID)
	}
	wantSum, err := PayloadChecksum(data)
	if err != nil {
		t.Fatalf("PayloadChecksum failed: %v", err)
	}
	if e.Checksum != wantSum {
		t.Errorf("Checksum = %s, want %s", e.Checksum, wantSum)
	}
	if e.Timestamp.IsZero() {
		t.Error("expected server-assigned timestamp")
	}
}

func TestAppendIdempotent(t *testing.T) {
	s := newTestStore(t)

	data := map[string]any{"framework": "hugo"}
	first := mustAppend(t, s, TypeRecommendation, data, nil)
	second := mustAppend(t, s, TypeRecommendation, data, nil)

	if first.ID != second.ID {
		t.Fatalf("identical content produced different IDs: %s vs %s", first.ID, second.ID)
	}
	if !second.Timestamp.Equal(first.Timestamp) {
		t.Errorf("duplicate append changed the stored timestamp")
	}

	entries, err := s.Load(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 stored entry after duplicate append, got %d", len(entries))
	}
}

func TestAppendDistinctContent(t *testing.T) {
	s := newTestStore(t)

	a := mustAppend(t, s, TypeAnalysis, map[string]any{"n": float64(1)}, nil)
	b := mustAppend(t, s, TypeAnalysis, map[string]any{"n": float64(2)}, nil)
	if a.ID == b.ID {
		t.Fatal("distinct payloads must get distinct IDs")
	}
	// Same payload under a different type is also distinct content.
	c := mustAppend(t, s, TypeInteraction, map[string]any{"n": float64(1)}, nil)
	if c.ID == a.ID {
		t.Fatal("same payload under a different type must get a distinct ID")
	}
}

func TestAppendRejectsInvalidEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, Entry{Type: "bogus", Data: map[string]any{"k": "v"}}); err == nil {
		t.Error("expected error for unknown type")
	} else {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected ValidationError, got %T", err)
		}
	}
	if _, err := s.Append(ctx, Entry{Type: TypeAnalysis}); err == nil {
		t.Error("expected error for empty data payload")
	}
	if _, err := s.Append(ctx, Entry{Type: TypeAnalysis, Data: map[string]any{"technologies": "hugo"}}); err == nil {
		t.Error("expected error for non-list technologies")
	}
	if _, err := s.Append(ctx, Entry{Type: TypeDeployment, Data: map[string]any{"platform": float64(9)}}); err == nil {
		t.Error("expected error for non-string platform")
	}
}

func TestPartitionFileLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()

	e := mustAppend(t, s, TypeDeployment, map[string]any{"platform": "github-pages"}, nil)

	want := partitionName(TypeDeployment, e.Timestamp)
	path := filepath.Join(dir, want)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("expected partition file %s: %v", want, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() || sc.Text() != FileMarker {
		t.Fatalf("partition must start with marker %q, got %q", FileMarker, sc.Text())
	}
	if !sc.Scan() {
		t.Fatal("expected a record line after the marker")
	}
	if !strings.Contains(sc.Text(), e.ID) {
		t.Error("record line does not contain the entry ID")
	}
}

func TestRecallMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	e, err := s.Recall("no-such-id")
	if err != nil {
		t.Fatalf("Recall of unknown ID must not error: %v", err)
	}
	if e != nil {
		t.Fatalf("Recall of unknown ID must return nil, got %+v", e)
	}
}

func TestDeleteTombstones(t *testing.T) {
	s := newTestStore(t)

	e := mustAppend(t, s, TypeInteraction, map[string]any{"prompt": "how do I deploy"}, nil)

	ok, err := s.Delete(e.ID)
	if err != nil || !ok {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", ok, err)
	}
	got, err := s.Recall(e.ID)
	if err != nil || got != nil {
		t.Fatalf("Recall after delete = (%+v, %v), want (nil, nil)", got, err)
	}
	entries, err := s.Load(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("Load returned %d entries after delete, want 0", len(entries))
	}

	ok, err = s.Delete(e.ID)
	if err != nil {
		t.Fatalf("second Delete errored: %v", err)
	}
	if ok {
		t.Error("second Delete of same ID must return false")
	}
}

func TestReappendAfterDelete(t *testing.T) {
	s := newTestStore(t)

	data := map[string]any{"tool": "docusaurus"}
	e := mustAppend(t, s, TypeConfiguration, data, nil)
	if _, err := s.Delete(e.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	again := mustAppend(t, s, TypeConfiguration, data, nil)
	if again.ID != e.ID {
		t.Fatalf("re-append produced a different ID")
	}
	got, err := s.Recall(e.ID)
	if err != nil || got == nil {
		t.Fatalf("entry must be recallable after re-append, got (%v, %v)", got, err)
	}
}

func TestReappendAfterDeleteKeepsIDsUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := map[string]any{"framework": "mkdocs"}
	e := mustAppend(t, s, TypeConfiguration, data, nil)
	if _, err := s.Delete(e.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	mustAppend(t, s, TypeConfiguration, data, nil)

	// The old tombstoned line is still on disk, but only the index's
	// canonical line may surface.
	entries, err := s.Load(ctx, Filter{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Load returned %d entries after delete and re-append, want 1", len(entries))
	}
	if entries[0].ID != e.ID {
		t.Errorf("Load returned ID %s, want %s", entries[0].ID, e.ID)
	}

	if err := s.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	entries, err = s.Load(ctx, Filter{})
	if err != nil {
		t.Fatalf("Load after Compact failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Load returned %d entries after Compact, want 1", len(entries))
	}
	got, err := s.Recall(e.ID)
	if err != nil || got == nil {
		t.Fatalf("entry must survive Compact, got (%v, %v)", got, err)
	}
}

func TestCompactDuringAppendsLosesNoRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 40
	ids := make([]string, n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			e, err := s.Append(ctx, Entry{
				Type: TypeAnalysis,
				Data: map[string]any{"step": float64(i)},
			})
			if err != nil {
				t.Errorf("Append %d failed: %v", i, err)
				return
			}
			ids[i] = e.ID
		}
	}()
	for i := 0; i < 10; i++ {
		if err := s.Compact(ctx); err != nil {
			t.Fatalf("Compact failed: %v", err)
		}
	}
	wg.Wait()

	for i, id := range ids {
		if id == "" {
			continue
		}
		got, err := s.Recall(id)
		if err != nil {
			t.Fatalf("Recall %d failed: %v", i, err)
		}
		if got == nil {
			t.Fatalf("entry %d lost during compaction", i)
		}
		if got.Data["step"] != float64(i) {
			t.Errorf("entry %d resolved to wrong record: step=%v", i, got.Data["step"])
		}
	}
}

func TestReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	kept := mustAppend(t, s, TypeAnalysis, map[string]any{"keep": true}, nil)
	gone := mustAppend(t, s, TypeAnalysis, map[string]any{"gone": true}, nil)
	if _, err := s.Delete(gone.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	got, err := s2.Recall(kept.ID)
	if err != nil || got == nil {
		t.Fatalf("kept entry lost across reopen: (%v, %v)", got, err)
	}
	if got.Checksum != kept.Checksum {
		t.Error("checksum changed across reopen")
	}
	deleted, err := s2.Recall(gone.ID)
	if err != nil || deleted != nil {
		t.Fatalf("tombstone lost across reopen: (%v, %v)", deleted, err)
	}
}

func TestIndexRebuiltFromPartitions(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	e := mustAppend(t, s, TypeAnalysis, map[string]any{"x": "y"}, nil)
	s.Close()

	if err := os.Remove(filepath.Join(dir, IndexFileName)); err != nil {
		t.Fatalf("failed to remove index sidecar: %v", err)
	}

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen without index failed: %v", err)
	}
	defer s2.Close()
	got, err := s2.Recall(e.ID)
	if err != nil || got == nil {
		t.Fatalf("entry not recovered by index rebuild: (%v, %v)", got, err)
	}
}

func TestCorruptLinesSkipped(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	e := mustAppend(t, s, TypeAnalysis, map[string]any{"good": true}, nil)
	part := partitionName(TypeAnalysis, e.Timestamp)
	s.Close()

	f, err := os.OpenFile(filepath.Join(dir, part), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open partition: %v", err)
	}
	if _, err := f.WriteString("{this is not json\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()
	if err := os.Remove(filepath.Join(dir, IndexFileName)); err != nil {
		t.Fatalf("remove index: %v", err)
	}

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen with corrupt line failed: %v", err)
	}
	defer s2.Close()

	entries, err := s2.Load(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != e.ID {
		t.Fatalf("expected the one good entry to survive, got %d entries", len(entries))
	}
	stats, err := s2.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.CorruptLines == 0 {
		t.Error("corrupt line not counted in stats")
	}
}

func TestRefusesForeignFiles(t *testing.T) {
	dir := t.TempDir()
	foreign := filepath.Join(dir, "analysis_2024_01.log")
	if err := os.WriteFile(foreign, []byte("someone else's data\n"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}

	_, err := NewStore(dir)
	if err == nil {
		t.Fatal("NewStore must refuse a marker-less partition file")
	}
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Errorf("expected IntegrityError, got %T: %v", err, err)
	}
}

func TestChecksumMismatchDetected(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	e := mustAppend(t, s, TypeAnalysis, map[string]any{"value": "original"}, nil)
	part := partitionName(TypeAnalysis, e.Timestamp)
	s.Close()

	path := filepath.Join(dir, part)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read partition: %v", err)
	}
	tampered := strings.Replace(string(raw), "original", "tampered1", 1)
	if tampered == string(raw) {
		t.Fatal("tampering had no effect")
	}
	if err := os.WriteFile(path, []byte(tampered), 0o644); err != nil {
		t.Fatalf("write tampered partition: %v", err)
	}

	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	_, err = s2.Recall(e.ID)
	var ie *IntegrityError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrityError on checksum mismatch, got %v", err)
	}
}

func TestLoadFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustAppend(t, s, TypeAnalysis, map[string]any{"a": float64(1)}, nil)
	mustAppend(t, s, TypeDeployment, map[string]any{"b": float64(2)}, nil)
	mustAppend(t, s, TypeDeployment, map[string]any{"c": float64(3)}, nil)

	byType, err := s.Load(ctx, Filter{Types: []EntryType{TypeDeployment}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("type filter returned %d entries, want 2", len(byType))
	}
	for _, e := range byType {
		if e.Type != TypeDeployment {
			t.Errorf("type filter leaked entry of type %s", e.Type)
		}
	}

	future, err := s.Load(ctx, Filter{From: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(future) != 0 {
		t.Errorf("future From filter returned %d entries, want 0", len(future))
	}
}

func TestConcurrentIdenticalAppendsConverge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	data := map[string]any{"race": "same content"}
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := s.Append(ctx, Entry{Type: TypeInteraction, Data: data})
			if err != nil {
				t.Errorf("concurrent Append failed: %v", err)
				return
			}
			ids[i] = e.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("concurrent appends diverged: %s vs %s", id, ids[0])
		}
	}
	entries, err := s.Load(ctx, Filter{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 stored entry, got %d", len(entries))
	}
}

func TestCompactDropsTombstones(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	kept := mustAppend(t, s, TypeAnalysis, map[string]any{"keep": "yes"}, nil)
	gone := mustAppend(t, s, TypeAnalysis, map[string]any{"keep": "no"}, nil)
	if _, err := s.Delete(gone.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if err := s.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.Tombstones != 0 {
		t.Errorf("tombstones remain after compact: %d", stats.Tombstones)
	}
	got, err := s.Recall(kept.ID)
	if err != nil || got == nil {
		t.Fatalf("live entry lost by compact: (%v, %v)", got, err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, partitionName(TypeAnalysis, gone.Timestamp)))
	if err != nil {
		t.Fatalf("read partition: %v", err)
	}
	if strings.Contains(string(raw), gone.ID) {
		t.Error("compacted partition still contains the deleted record")
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, err = s.Append(context.Background(), Entry{Type: TypeAnalysis, Data: map[string]any{"k": "v"}})
	if !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

func TestGetStats(t *testing.T) {
	s := newTestStore(t)

	mustAppend(t, s, TypeAnalysis, map[string]any{"a": float64(1)}, nil)
	mustAppend(t, s, TypeConfiguration, map[string]any{"b": float64(2)}, nil)
	e := mustAppend(t, s, TypeConfiguration, map[string]any{"c": float64(3)}, nil)
	if _, err := s.Delete(e.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalEntries != 2 {
		t.Errorf("TotalEntries = %d, want 2", stats.TotalEntries)
	}
	if stats.Tombstones != 1 {
		t.Errorf("Tombstones = %d, want 1", stats.Tombstones)
	}
	if stats.EntriesByType[TypeConfiguration] != 1 {
		t.Errorf("configuration count = %d, want 1", stats.EntriesByType[TypeConfiguration])
	}
	if stats.StorageBytes == 0 {
		t.Error("StorageBytes must be non-zero")
	}
}
