package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tosin2013/documcp-sub005/internal/logging"
	"github.com/tosin2013/documcp-sub005/internal/memory"
)

// Derived node and edge types produced by BuildFromMemories.
const (
	NodeTypeProject       = "project"
	NodeTypeTechnology    = "technology"
	NodeTypeConfiguration = "configuration"

	EdgeTypeUses           = "uses"
	EdgeTypeDeployedWith   = "deployed_with"
	EdgeTypeConfiguredWith = "configured_with"
)

// BuildFromMemories rebuilds graph content from the record store. The pass
// is additive and idempotent: derived IDs are deterministic, so re-running
// replaces rather than duplicates.
//
// Derivation rules:
//   - any record with a projectId produces a project node
//   - data "technologies" (list) and "language" produce technology nodes
//     linked by "uses" edges
//   - deployment records' "platform" produces a technology node linked by
//     "deployed_with"
//   - configuration records' "framework" (or "tool") produces a
//     configuration node linked by "configured_with"
func (g *KnowledgeGraph) BuildFromMemories(ctx context.Context, store *memory.Store) error {
	timer := logging.StartTimer(logging.CategoryGraph, "BuildFromMemories")
	defer timer.StopWithThreshold(5 * time.Second)

	entries, err := store.Load(ctx, memory.Filter{})
	if err != nil {
		return err
	}

	derivedNodes := 0
	derivedEdges := 0
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, e := g.deriveFromEntry(&entries[i])
		derivedNodes += n
		derivedEdges += e
	}

	logging.Graph("graph rebuild from %d records: %d nodes, %d edges derived", len(entries), derivedNodes, derivedEdges)
	return nil
}

func (g *KnowledgeGraph) deriveFromEntry(e *memory.Entry) (nodes, edges int) {
	projectID := e.ProjectID()
	if projectID == "" {
		return 0, 0
	}

	projectNode := fmt.Sprintf("project:%s", projectID)
	label := projectID
	if name, ok := e.Data["projectName"].(string); ok && name != "" {
		label = name
	}
	if _, err := g.AddNode(Node{ID: projectNode, Type: NodeTypeProject, Label: label}); err == nil {
		nodes++
	}

	link := func(targetType, targetName, edgeType string) {
		targetName = strings.ToLower(strings.TrimSpace(targetName))
		if targetName == "" {
			return
		}
		targetID := fmt.Sprintf("%s:%s", targetType, targetName)
		if _, err := g.AddNode(Node{ID: targetID, Type: targetType, Label: targetName}); err == nil {
			nodes++
		}
		if _, err := g.AddEdge(Edge{Source: projectNode, Target: targetID, Type: edgeType, Confidence: 1.0}); err == nil {
			edges++
		}
	}

	for _, tech := range stringList(e.Data["technologies"]) {
		link(NodeTypeTechnology, tech, EdgeTypeUses)
	}
	if lang, ok := e.Data["language"].(string); ok {
		link(NodeTypeTechnology, lang, EdgeTypeUses)
	}

	switch e.Type {
	case memory.TypeDeployment:
		if platform, ok := e.Data["platform"].(string); ok {
			link(NodeTypeTechnology, platform, EdgeTypeDeployedWith)
		}
	case memory.TypeConfiguration:
		name, ok := e.Data["framework"].(string)
		if !ok {
			name, _ = e.Data["tool"].(string)
		}
		link(NodeTypeConfiguration, name, EdgeTypeConfiguredWith)
	}
	return nodes, edges
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
