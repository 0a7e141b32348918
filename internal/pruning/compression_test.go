package pruning

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tosin2013/documcp-sub005/internal/memory"
)

func TestCompressEntrySmallPayloadNoOp(t *testing.T) {
	e := &memory.Entry{ID: "small", Type: memory.TypeAnalysis, Data: map[string]any{"k": "v"}}
	res, packed := CompressEntry(e, NewGzipStrategy())
	assert.False(t, res.Compressed)
	assert.Nil(t, packed)
	assert.Empty(t, res.Err)
	assert.Equal(t, 1.0, res.Ratio)
}

func TestCompressEntryShrinksLargePayload(t *testing.T) {
	e := &memory.Entry{
		ID:   "large",
		Type: memory.TypeAnalysis,
		Data: map[string]any{"blob": strings.Repeat("documentation analysis ", 200)},
	}
	res, packed := CompressEntry(e, NewGzipStrategy())
	require.Empty(t, res.Err)
	require.True(t, res.Compressed)
	assert.Less(t, res.CompressedSize, res.OriginalSize)
	assert.Less(t, res.Ratio, 1.0)

	// The packed bytes must decompress back to the serialized entry.
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	var decoded memory.Entry
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, e.ID, decoded.ID)
	assert.Equal(t, e.Data["blob"], decoded.Data["blob"])
}

type failingStrategy struct{}

func (failingStrategy) Name() string                    { return "failing" }
func (failingStrategy) Compress([]byte) ([]byte, error) { return nil, errors.New("disk on fire") }

func TestCompressEntryFailureCarriedInResult(t *testing.T) {
	e := &memory.Entry{
		ID:   "doomed",
		Type: memory.TypeAnalysis,
		Data: map[string]any{"blob": strings.Repeat("x", 1024)},
	}
	res, packed := CompressEntry(e, failingStrategy{})
	assert.False(t, res.Compressed)
	assert.Nil(t, packed)
	assert.Contains(t, res.Err, "disk on fire")
}
