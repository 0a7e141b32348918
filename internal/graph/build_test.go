package graph

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/tosin2013/documcp-sub005/internal/memory"
)

func seedStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func remember(t *testing.T, store *memory.Store, typ memory.EntryType, data map[string]any, projectID string) {
	t.Helper()
	meta := map[string]any{memory.MetaProjectID: projectID}
	if _, err := store.Remember(context.Background(), typ, data, meta); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}
}

func TestBuildFromMemories(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	remember(t, store, memory.TypeAnalysis, map[string]any{
		"projectName":  "Docs Site",
		"technologies": []string{"Hugo", "Node"},
		"language":     "Go",
	}, "proj-1")
	remember(t, store, memory.TypeDeployment, map[string]any{
		"platform": "GitHub-Pages",
	}, "proj-1")
	remember(t, store, memory.TypeConfiguration, map[string]any{
		"framework": "Docusaurus",
	}, "proj-1")
	// No projectId: contributes nothing.
	if _, err := store.Remember(ctx, memory.TypeInteraction, map[string]any{"q": "hello"}, nil); err != nil {
		t.Fatalf("Remember failed: %v", err)
	}

	g := NewKnowledgeGraph()
	if err := g.BuildFromMemories(ctx, store); err != nil {
		t.Fatalf("BuildFromMemories failed: %v", err)
	}

	project, ok := g.GetNode("project:proj-1")
	if !ok {
		t.Fatal("project node not derived")
	}
	if project.Label != "Docs Site" {
		t.Errorf("project label = %q, want projectName", project.Label)
	}

	for _, id := range []string{"technology:hugo", "technology:node", "technology:go", "technology:github-pages", "configuration:docusaurus"} {
		if _, ok := g.GetNode(id); !ok {
			t.Errorf("expected derived node %s", id)
		}
	}

	if _, ok := g.edges["project:proj-1-uses-technology:hugo"]; !ok {
		t.Error("missing uses edge to hugo")
	}
	if _, ok := g.edges["project:proj-1-deployed_with-technology:github-pages"]; !ok {
		t.Error("missing deployed_with edge")
	}
	if _, ok := g.edges["project:proj-1-configured_with-configuration:docusaurus"]; !ok {
		t.Error("missing configured_with edge")
	}
}

func TestBuildFromMemoriesIdempotent(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	remember(t, store, memory.TypeAnalysis, map[string]any{
		"technologies": []string{"hugo"},
	}, "proj-1")

	g := NewKnowledgeGraph()
	if err := g.BuildFromMemories(ctx, store); err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	first := g.GetStatistics()

	if err := g.BuildFromMemories(ctx, store); err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	second := g.GetStatistics()

	if first.NodeCount != second.NodeCount || first.EdgeCount != second.EdgeCount {
		t.Fatalf("rebuild not idempotent: %d/%d then %d/%d",
			first.NodeCount, first.EdgeCount, second.NodeCount, second.EdgeCount)
	}
}

func TestWatcherRebuildsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t)

	store, err := memory.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()
	g := NewKnowledgeGraph()

	w := NewWatcher(g, store, 50*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	remember(t, store, memory.TypeAnalysis, map[string]any{
		"technologies": []string{"hugo"},
	}, "proj-w")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := g.GetNode("project:proj-w"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not rebuild the graph in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	store := seedStore(t)
	w := NewWatcher(NewKnowledgeGraph(), store, 0)
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	w.Stop()
	w.Stop()
}
