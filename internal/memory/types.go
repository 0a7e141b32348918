// Package memory implements the append-only, content-addressed record store.
// Records are immutable once appended: identical type+data+metadata always
// hash to the same ID, so re-appending the same content is a no-op.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// EntryType is the closed set of record types the store accepts.
type EntryType string

const (
	TypeAnalysis       EntryType = "analysis"
	TypeRecommendation EntryType = "recommendation"
	TypeDeployment     EntryType = "deployment"
	TypeConfiguration  EntryType = "configuration"
	TypeInteraction    EntryType = "interaction"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypeAnalysis, TypeRecommendation, TypeDeployment, TypeConfiguration, TypeInteraction:
		return true
	}
	return false
}

// AllTypes lists every valid entry type, in stable order.
func AllTypes() []EntryType {
	return []EntryType{TypeAnalysis, TypeRecommendation, TypeDeployment, TypeConfiguration, TypeInteraction}
}

// Well-known metadata keys. Metadata is an open key/value map; these are the
// keys the rest of the system gives meaning to.
const (
	MetaProjectID  = "projectId"
	MetaRepository = "repository"
	MetaTags       = "tags"
)

// Entry is one immutable record. ID is the content hash of
// type+data+metadata (timestamp excluded), Checksum the hash of the data
// payload alone, kept independent of ID for corruption detection.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EntryType      `json:"type"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Checksum  string         `json:"checksum"`
}

// Tags returns the metadata tags list, tolerating both []string and the
// []any that JSON round-trips produce.
func (e *Entry) Tags() []string {
	if e.Metadata == nil {
		return nil
	}
	switch v := e.Metadata[MetaTags].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ProjectID returns the metadata project identifier, if set.
func (e *Entry) ProjectID() string {
	if e.Metadata == nil {
		return ""
	}
	s, _ := e.Metadata[MetaProjectID].(string)
	return s
}

// Validate rejects malformed entries before any I/O happens.
func (e *Entry) Validate() error {
	if !e.Type.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown entry type %q", e.Type)}
	}
	if len(e.Data) == 0 {
		return &ValidationError{Field: "data", Reason: "data payload must not be empty"}
	}
	return validatePayload(e.Type, e.Data)
}

// validatePayload shape-checks the payload fields the rest of the system
// interprets. Payloads stay open maps; unknown keys pass through untouched.
func validatePayload(typ EntryType, data map[string]any) error {
	if v, ok := data["technologies"]; ok && !isStringList(v) {
		return &ValidationError{Field: "data.technologies", Reason: "must be a list of strings"}
	}
	if v, ok := data["language"]; ok {
		if _, isStr := v.(string); !isStr {
			return &ValidationError{Field: "data.language", Reason: "must be a string"}
		}
	}
	switch typ {
	case TypeDeployment:
		if v, ok := data["platform"]; ok {
			if _, isStr := v.(string); !isStr {
				return &ValidationError{Field: "data.platform", Reason: "must be a string"}
			}
		}
	case TypeConfiguration:
		for _, key := range []string{"framework", "tool"} {
			if v, ok := data[key]; ok {
				if _, isStr := v.(string); !isStr {
					return &ValidationError{Field: "data." + key, Reason: "must be a string"}
				}
			}
		}
	}
	return nil
}

func isStringList(v any) bool {
	switch list := v.(type) {
	case []string:
		return true
	case []any:
		for _, item := range list {
			if _, ok := item.(string); !ok {
				return false
			}
		}
		return true
	}
	return false
}

// contentEnvelope is the canonical form hashed into the entry ID.
// encoding/json sorts map keys, which makes the serialization stable for
// identical content.
type contentEnvelope struct {
	Type     EntryType      `json:"type"`
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// ContentID computes the content-addressed ID for an entry.
func ContentID(typ EntryType, data, metadata map[string]any) (string, error) {
	b, err := json.Marshal(contentEnvelope{Type: typ, Data: data, Metadata: metadata})
	if err != nil {
		return "", fmt.Errorf("failed to serialize entry content: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// PayloadChecksum computes the checksum of the data payload alone.
func PayloadChecksum(data map[string]any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to serialize entry payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
