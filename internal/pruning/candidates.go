package pruning

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/tosin2013/documcp-sub005/internal/logging"
	"github.com/tosin2013/documcp-sub005/internal/memory"
)

// Candidates groups the entries each policy dimension selected for
// eviction. A single entry may appear in more than one list; the engine
// dedupes before deleting.
type Candidates struct {
	ByAge        []memory.Entry
	BySize       []memory.Entry
	ByRedundancy []memory.Entry
}

// Counts summarizes candidate volume for events and logs.
func (c Candidates) Counts() CandidateCounts {
	return CandidateCounts{
		ByAge:        len(c.ByAge),
		BySize:       len(c.BySize),
		ByRedundancy: len(c.ByRedundancy),
	}
}

// CandidateCounts is the per-dimension candidate tally carried on events.
type CandidateCounts struct {
	ByAge        int `json:"byAge"`
	BySize       int `json:"bySize"`
	ByRedundancy int `json:"byRedundancy"`
	Compression  int `json:"compression"`
}

// IDs returns the deduplicated set of entry IDs across all dimensions.
func (c Candidates) IDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, list := range [][]memory.Entry{c.ByAge, c.BySize, c.ByRedundancy} {
		for _, e := range list {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// IdentifyPruningCandidates evaluates the current policy against the live
// store and returns the entries each dimension would evict. It never
// mutates the store.
func (e *Engine) IdentifyPruningCandidates(ctx context.Context) (Candidates, error) {
	timer := logging.StartTimer(logging.CategoryPruning, "identify candidates")
	defer timer.Stop()

	policy := e.Policy()
	entries, err := e.store.Load(ctx, memory.Filter{})
	if err != nil {
		return Candidates{}, err
	}
	stats, err := e.store.GetStats()
	if err != nil {
		return Candidates{}, err
	}

	var c Candidates
	c.ByAge = e.candidatesByAge(entries, &policy)
	c.BySize = e.candidatesBySize(entries, stats, &policy)
	c.ByRedundancy = e.candidatesByRedundancy(entries, &policy)

	counts := c.Counts()
	logging.PruningDebug("candidates: age=%d size=%d redundancy=%d over %d entries",
		counts.ByAge, counts.BySize, counts.ByRedundancy, len(entries))
	return c, nil
}

func (e *Engine) candidatesByAge(entries []memory.Entry, policy *Policy) []memory.Entry {
	cutoff := e.now().Add(-time.Duration(policy.MaxAgeDays * float64(24*time.Hour)))
	var out []memory.Entry
	for _, entry := range entries {
		if policy.Preserves(&entry) {
			continue
		}
		if entry.Timestamp.Before(cutoff) {
			out = append(out, entry)
		}
	}
	return out
}

// candidatesBySize selects the least important entries until the projected
// store size fits under maxSizeMB and the projected count fits under
// maxEntries.
func (e *Engine) candidatesBySize(entries []memory.Entry, stats memory.Stats, policy *Policy) []memory.Entry {
	limitBytes := int64(policy.MaxSizeMB * 1024 * 1024)
	overBytes := stats.StorageBytes - limitBytes
	overCount := len(entries) - policy.MaxEntries
	if overBytes <= 0 && overCount <= 0 {
		return nil
	}

	type scored struct {
		entry memory.Entry
		score float64
		size  int64
	}
	var ranked []scored
	for _, entry := range entries {
		if policy.Preserves(&entry) {
			continue
		}
		ranked = append(ranked, scored{
			entry: entry,
			score: e.importance(&entry),
			size:  entrySize(&entry),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score < ranked[j].score })

	var out []memory.Entry
	for _, r := range ranked {
		if overBytes <= 0 && overCount <= 0 {
			break
		}
		out = append(out, r.entry)
		overBytes -= r.size
		overCount--
	}
	return out
}

// candidatesByRedundancy clusters near-duplicate entries of the same type
// and marks everything but the most recent member of each cluster.
func (e *Engine) candidatesByRedundancy(entries []memory.Entry, policy *Policy) []memory.Entry {
	byType := make(map[memory.EntryType][]memory.Entry)
	for _, entry := range entries {
		byType[entry.Type] = append(byType[entry.Type], entry)
	}

	var out []memory.Entry
	for _, group := range byType {
		clustered := make([]bool, len(group))
		for i := range group {
			if clustered[i] {
				continue
			}
			cluster := []int{i}
			for j := i + 1; j < len(group); j++ {
				if clustered[j] {
					continue
				}
				if Similarity(&group[i], &group[j]) >= policy.RedundancyThreshold {
					cluster = append(cluster, j)
					clustered[j] = true
				}
			}
			if len(cluster) < 2 {
				continue
			}
			keep := cluster[0]
			for _, idx := range cluster[1:] {
				if group[idx].Timestamp.After(group[keep].Timestamp) {
					keep = idx
				}
			}
			for _, idx := range cluster {
				if idx == keep {
					continue
				}
				if policy.Preserves(&group[idx]) {
					continue
				}
				out = append(out, group[idx])
			}
		}
	}
	return out
}

// IdentifyCompressionCandidates returns entries old enough to compress
// that are not already staged for eviction.
func (e *Engine) IdentifyCompressionCandidates(ctx context.Context, evicting Candidates) ([]memory.Entry, error) {
	policy := e.Policy()
	cutoff := e.now().Add(-time.Duration(policy.CompressionThresholdDays * float64(24*time.Hour)))
	entries, err := e.store.Load(ctx, memory.Filter{To: cutoff})
	if err != nil {
		return nil, err
	}
	skip := make(map[string]struct{})
	for _, id := range evicting.IDs() {
		skip[id] = struct{}{}
	}
	var out []memory.Entry
	for _, entry := range entries {
		if _, ok := skip[entry.ID]; ok {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// importance ranks an entry for size-pressure eviction. Higher scores
// survive longer. Configuration and deployment records carry operational
// state, so they outrank conversational interactions, and recent entries
// outrank stale ones of the same type.
func (e *Engine) importance(entry *memory.Entry) float64 {
	base := map[memory.EntryType]float64{
		memory.TypeConfiguration:  1.0,
		memory.TypeDeployment:     0.9,
		memory.TypeRecommendation: 0.6,
		memory.TypeAnalysis:       0.5,
		memory.TypeInteraction:    0.2,
	}[entry.Type]

	ageDays := e.now().Sub(entry.Timestamp).Hours() / 24
	recency := 1.0 / (1.0 + ageDays/30)

	boost := 0.0
	for _, tag := range entry.Tags() {
		if tag == "important" || tag == "critical" {
			boost = 0.5
			break
		}
	}
	return base*0.5 + recency*0.4 + boost
}

func entrySize(e *memory.Entry) int64 {
	raw, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return int64(len(raw)) + 1
}
