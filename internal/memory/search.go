package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/tosin2013/documcp-sub005/internal/logging"
)

// SearchFilter narrows a Search. All populated fields must match; a zero
// filter matches everything.
type SearchFilter struct {
	Query     string // free-text match over the serialized data payload
	Types     []EntryType
	ProjectID string
	Tag       string
	From      time.Time
	To        time.Time
	Limit     int
}

// Remember appends a record built from its parts. This is the write entry
// point external collaborators use.
func (s *Store) Remember(ctx context.Context, typ EntryType, data, metadata map[string]any) (*Entry, error) {
	return s.Append(ctx, Entry{Type: typ, Data: data, Metadata: metadata})
}

// Forget tombstones a record by ID. Returns false when the ID is unknown.
func (s *Store) Forget(id string) (bool, error) {
	return s.Delete(id)
}

// Search loads matching entries and filters them in memory, newest first.
// Unmatched filters return empty results, never an error.
func (s *Store) Search(ctx context.Context, f SearchFilter) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryMemory, "Search")
	defer timer.Stop()

	entries, err := s.Load(ctx, Filter{Types: f.Types, From: f.From, To: f.To})
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(f.Query))
	var out []Entry
	for _, e := range entries {
		if f.ProjectID != "" && e.ProjectID() != f.ProjectID {
			continue
		}
		if f.Tag != "" && !hasTag(&e, f.Tag) {
			continue
		}
		if query != "" && !payloadContains(&e, query) {
			continue
		}
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	logging.MemoryDebug("search matched %d/%d entries (query=%q)", len(out), len(entries), f.Query)
	return out, nil
}

func hasTag(e *Entry, tag string) bool {
	for _, t := range e.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

func payloadContains(e *Entry, loweredQuery string) bool {
	b, err := json.Marshal(e.Data)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(b)), loweredQuery)
}
