package pruning

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"

	"github.com/tosin2013/documcp-sub005/internal/memory"
)

// Payloads smaller than this are not worth the gzip header overhead.
const compressionMinBytes = 256

// Strategy produces the compressed form of a record payload.
type Strategy interface {
	Name() string
	Compress(raw []byte) ([]byte, error)
}

// GzipStrategy compresses payloads with gzip at the configured level.
type GzipStrategy struct {
	Level int
}

// NewGzipStrategy returns a strategy using gzip's best-compression level,
// the right trade for cold records that are written once and rarely read.
func NewGzipStrategy() *GzipStrategy {
	return &GzipStrategy{Level: gzip.BestCompression}
}

func (s *GzipStrategy) Name() string { return "gzip" }

func (s *GzipStrategy) Compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, s.Level)
	if err != nil {
		return nil, fmt.Errorf("pruning: gzip writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, fmt.Errorf("pruning: gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("pruning: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// CompressionResult reports the outcome for a single entry. Failures are
// carried in Err so one bad entry never aborts the batch.
type CompressionResult struct {
	ID             string  `json:"id"`
	Compressed     bool    `json:"compressed"`
	OriginalSize   int64   `json:"originalSize"`
	CompressedSize int64   `json:"compressedSize"`
	Ratio          float64 `json:"ratio"`
	Err            string  `json:"error,omitempty"`
}

// CompressEntry serializes an entry and runs it through the strategy.
// Entries below the size threshold come back untouched with Compressed
// false. The compressed bytes are returned alongside the result; they are
// nil unless compression actually happened.
func CompressEntry(e *memory.Entry, strategy Strategy) (CompressionResult, []byte) {
	res := CompressionResult{ID: e.ID}
	raw, err := json.Marshal(e)
	if err != nil {
		res.Err = fmt.Sprintf("serialize: %v", err)
		return res, nil
	}
	res.OriginalSize = int64(len(raw))
	if res.OriginalSize < compressionMinBytes {
		res.Ratio = 1
		return res, nil
	}
	packed, err := strategy.Compress(raw)
	if err != nil {
		res.Err = err.Error()
		return res, nil
	}
	res.Compressed = true
	res.CompressedSize = int64(len(packed))
	res.Ratio = float64(res.CompressedSize) / float64(res.OriginalSize)
	return res, packed
}
