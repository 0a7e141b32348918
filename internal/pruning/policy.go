// Package pruning implements the maintenance engine: a policy-driven
// pipeline that identifies eviction/compression/dedup candidates over the
// record store, applies them with partial-failure tolerance, and can run on
// a cron schedule.
package pruning

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/tosin2013/documcp-sub005/internal/config"
	"github.com/tosin2013/documcp-sub005/internal/memory"
)

// Floors enforced by UpdatePolicy. Runtime policy updates below these are a
// sign of corrupted input, so they are rejected rather than clamped.
const (
	MinUpdateAgeDays = 1.0
	MinUpdateEntries = 100
)

// Policy is the retention policy the maintenance engine evaluates records
// against.
type Policy struct {
	MaxAgeDays               float64  `json:"maxAgeDays"`
	MaxSizeMB                float64  `json:"maxSizeMB"`
	MaxEntries               int      `json:"maxEntries"`
	PreservePatterns         []string `json:"preservePatterns"`
	CompressionThresholdDays float64  `json:"compressionThresholdDays"`
	RedundancyThreshold      float64  `json:"redundancyThreshold"`
	BackupBeforePrune        bool     `json:"backupBeforePrune"`
	Parallelism              int      `json:"parallelism"`

	matchers []glob.Glob
}

// DefaultPolicy returns the retention policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxAgeDays:               180,
		MaxSizeMB:                500,
		MaxEntries:               100000,
		PreservePatterns:         []string{"configuration", "deployment"},
		CompressionThresholdDays: 30,
		RedundancyThreshold:      0.85,
		BackupBeforePrune:        true,
		Parallelism:              4,
	}
}

// PolicyFromConfig builds a policy from the loaded configuration.
func PolicyFromConfig(cfg config.PruningConfig) Policy {
	return Policy{
		MaxAgeDays:               cfg.MaxAgeDays,
		MaxSizeMB:                cfg.MaxSizeMB,
		MaxEntries:               cfg.MaxEntries,
		PreservePatterns:         cfg.PreservePatterns,
		CompressionThresholdDays: cfg.CompressionThresholdDays,
		RedundancyThreshold:      cfg.RedundancyThreshold,
		BackupBeforePrune:        cfg.BackupBeforePrune,
		Parallelism:              cfg.Parallelism,
	}
}

// PolicyError describes a rejected policy value.
type PolicyError struct {
	Field  string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("pruning: invalid policy %s: %s", e.Field, e.Reason)
}

// Validate checks the policy invariants and compiles preserve patterns.
func (p *Policy) Validate() error {
	if p.MaxAgeDays <= 0 {
		return &PolicyError{Field: "maxAgeDays", Reason: fmt.Sprintf("must be positive, got %v", p.MaxAgeDays)}
	}
	if p.MaxSizeMB <= 0 {
		return &PolicyError{Field: "maxSizeMB", Reason: fmt.Sprintf("must be positive, got %v", p.MaxSizeMB)}
	}
	if p.MaxEntries <= 0 {
		return &PolicyError{Field: "maxEntries", Reason: fmt.Sprintf("must be positive, got %d", p.MaxEntries)}
	}
	if p.CompressionThresholdDays <= 0 {
		return &PolicyError{Field: "compressionThresholdDays", Reason: fmt.Sprintf("must be positive, got %v", p.CompressionThresholdDays)}
	}
	if p.RedundancyThreshold <= 0 || p.RedundancyThreshold > 1 {
		return &PolicyError{Field: "redundancyThreshold", Reason: fmt.Sprintf("must be in (0, 1], got %v", p.RedundancyThreshold)}
	}
	if p.Parallelism < 1 {
		return &PolicyError{Field: "parallelism", Reason: fmt.Sprintf("must be at least 1, got %d", p.Parallelism)}
	}

	p.matchers = p.matchers[:0]
	for _, pattern := range p.PreservePatterns {
		m, err := glob.Compile(pattern)
		if err != nil {
			return &PolicyError{Field: "preservePatterns", Reason: fmt.Sprintf("bad pattern %q: %v", pattern, err)}
		}
		p.matchers = append(p.matchers, m)
	}
	return nil
}

// Preserves reports whether an entry is exempt from all eviction: a
// preserve pattern matching its type or any of its tags.
func (p *Policy) Preserves(e *memory.Entry) bool {
	for _, m := range p.matchers {
		if m.Match(string(e.Type)) {
			return true
		}
		for _, tag := range e.Tags() {
			if m.Match(tag) {
				return true
			}
		}
	}
	return false
}

// Patch is a partial policy update; nil fields keep their current value.
type Patch struct {
	MaxAgeDays               *float64
	MaxSizeMB                *float64
	MaxEntries               *int
	PreservePatterns         *[]string
	CompressionThresholdDays *float64
	RedundancyThreshold      *float64
	BackupBeforePrune        *bool
	Parallelism              *int
}

// apply merges a patch into a copy of the policy.
func (p Policy) apply(patch Patch) Policy {
	next := p
	next.matchers = nil
	if patch.MaxAgeDays != nil {
		next.MaxAgeDays = *patch.MaxAgeDays
	}
	if patch.MaxSizeMB != nil {
		next.MaxSizeMB = *patch.MaxSizeMB
	}
	if patch.MaxEntries != nil {
		next.MaxEntries = *patch.MaxEntries
	}
	if patch.PreservePatterns != nil {
		next.PreservePatterns = append([]string(nil), (*patch.PreservePatterns)...)
	}
	if patch.CompressionThresholdDays != nil {
		next.CompressionThresholdDays = *patch.CompressionThresholdDays
	}
	if patch.RedundancyThreshold != nil {
		next.RedundancyThreshold = *patch.RedundancyThreshold
	}
	if patch.BackupBeforePrune != nil {
		next.BackupBeforePrune = *patch.BackupBeforePrune
	}
	if patch.Parallelism != nil {
		next.Parallelism = *patch.Parallelism
	}
	return next
}

// validateForUpdate applies the stricter runtime floors on top of Validate.
// A scheduled engine accepting maxAgeDays under a day would quietly evict
// the whole store on its next tick.
func (p *Policy) validateForUpdate() error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.MaxAgeDays < MinUpdateAgeDays {
		return &PolicyError{Field: "maxAgeDays", Reason: fmt.Sprintf("must be at least %v day(s), got %v", MinUpdateAgeDays, p.MaxAgeDays)}
	}
	if p.MaxEntries < MinUpdateEntries {
		return &PolicyError{Field: "maxEntries", Reason: fmt.Sprintf("must be at least %d, got %d", MinUpdateEntries, p.MaxEntries)}
	}
	return nil
}
