// Package graph implements the knowledge graph: durable entity/relationship
// storage with backup rotation and integrity verification, and an in-memory
// adjacency model answering typed queries over it.
package graph

import (
	"fmt"
	"math"
	"time"
)

// Node is a typed vertex (project, technology, configuration, documentation
// artifact). IDs are caller-assigned and namespaced, e.g. "project:x".
type Node struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Label       string         `json:"label"`
	Properties  map[string]any `json:"properties,omitempty"`
	Weight      float64        `json:"weight"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// Edge is a typed, directed relationship between two nodes. Edges referencing
// a missing node are tolerated (eventual consistency between node and edge
// writes), surfaced as integrity warnings rather than errors.
type Edge struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Type        string         `json:"type"`
	Weight      float64        `json:"weight"`
	Confidence  float64        `json:"confidence"`
	Properties  map[string]any `json:"properties,omitempty"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

// DerivedEdgeID is the ID an edge gets when the caller does not supply one.
func DerivedEdgeID(source, edgeType, target string) string {
	return fmt.Sprintf("%s-%s-%s", source, edgeType, target)
}

func (n *Node) validate() error {
	if n.ID == "" {
		return &ValidationError{Kind: "node", Reason: "id must not be empty"}
	}
	if n.Type == "" {
		return &ValidationError{Kind: "node", Reason: fmt.Sprintf("node %q has no type", n.ID)}
	}
	if math.IsNaN(n.Weight) || math.IsInf(n.Weight, 0) {
		return &ValidationError{Kind: "node", Reason: fmt.Sprintf("node %q has invalid weight %v", n.ID, n.Weight)}
	}
	return nil
}

func (e *Edge) validate() error {
	if e.Source == "" || e.Target == "" {
		return &ValidationError{Kind: "edge", Reason: "source and target must not be empty"}
	}
	if e.Type == "" {
		return &ValidationError{Kind: "edge", Reason: fmt.Sprintf("edge %s->%s has no type", e.Source, e.Target)}
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return &ValidationError{Kind: "edge", Reason: fmt.Sprintf("edge %s->%s confidence %v outside [0,1]", e.Source, e.Target, e.Confidence)}
	}
	if math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
		return &ValidationError{Kind: "edge", Reason: fmt.Sprintf("edge %s->%s has invalid weight %v", e.Source, e.Target, e.Weight)}
	}
	return nil
}

// ValidationError describes a malformed node or edge rejected before any
// mutation.
type ValidationError struct {
	Kind   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph: invalid %s: %s", e.Kind, e.Reason)
}

// StorageError wraps a filesystem failure during a graph storage operation.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("graph: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IntegrityError describes on-disk state that must be surfaced, never
// silently fixed: duplicate entity IDs or a file missing its marker.
type IntegrityError struct {
	Path   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("graph: integrity violation in %s: %s", e.Path, e.Reason)
}
