package pruning

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/tosin2013/documcp-sub005/internal/memory"
)

// Similarity scores how alike two entries' payloads are, in [0, 1].
// It is a Jaccard index over the token sets of the canonical JSON of each
// payload, so key order and whitespace never affect the score.
func Similarity(a, b *memory.Entry) float64 {
	ta := tokenSet(a.Data)
	tb := tokenSet(b.Data)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(data map[string]any) map[string]struct{} {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	set := make(map[string]struct{})
	fields := strings.FieldsFunc(string(raw), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		set[strings.ToLower(f)] = struct{}{}
	}
	return set
}
