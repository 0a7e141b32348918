package pruning

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tosin2013/documcp-sub005/internal/memory"
)

func entryWithData(data map[string]any) *memory.Entry {
	return &memory.Entry{Type: memory.TypeAnalysis, Data: data}
}

func TestSimilarityIdenticalPayloads(t *testing.T) {
	a := entryWithData(map[string]any{"summary": "missing readme", "severity": "low"})
	b := entryWithData(map[string]any{"severity": "low", "summary": "missing readme"})
	// Key order never matters.
	assert.Equal(t, 1.0, Similarity(a, b))
}

func TestSimilarityDisjointPayloads(t *testing.T) {
	a := entryWithData(map[string]any{"alpha": "one"})
	b := entryWithData(map[string]any{"beta": "two"})
	assert.Equal(t, 0.0, Similarity(a, b))
}

func TestSimilaritySymmetric(t *testing.T) {
	a := entryWithData(map[string]any{"summary": "hugo build failing on ci"})
	b := entryWithData(map[string]any{"summary": "hugo build failing locally"})
	s1 := Similarity(a, b)
	s2 := Similarity(b, a)
	assert.Equal(t, s1, s2)
	assert.Greater(t, s1, 0.0)
	assert.Less(t, s1, 1.0)
}

func TestSimilarityEmptyPayloads(t *testing.T) {
	empty := entryWithData(map[string]any{})
	full := entryWithData(map[string]any{"k": "v"})
	assert.Equal(t, 1.0, Similarity(empty, entryWithData(map[string]any{})))
	assert.Equal(t, 0.0, Similarity(empty, full))
}
