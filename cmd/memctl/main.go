package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tosin2013/documcp-sub005/internal/config"
	"github.com/tosin2013/documcp-sub005/internal/graph"
	"github.com/tosin2013/documcp-sub005/internal/logging"
	"github.com/tosin2013/documcp-sub005/internal/memory"
	"github.com/tosin2013/documcp-sub005/internal/pruning"
)

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "memctl - persistent memory substrate control",
	Long: `memctl manages the documentation assistant's memory substrate:
the append-only record store, the knowledge graph, and the maintenance
engine that keeps both within policy.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
			workspace = wd
		}
		var err error
		cfg, err = config.Load(configPath, workspace)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		debug := cfg.Logging.DebugMode || verbose
		if err := logging.Initialize(workspace, debug, cfg.Logging.Level); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

// statsCmd prints record store and graph statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record store and knowledge graph statistics",
	RunE:  runStats,
}

// verifyCmd checks graph storage integrity
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify knowledge graph storage integrity",
	Long: `Checks the entity and relationship tables for duplicate entity IDs
(errors) and duplicate or dangling relationships (warnings). Exits
non-zero when errors are found.`,
	RunE: runVerify,
}

// pruneCmd runs one maintenance pass
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run one maintenance pass over the record store",
	Long: `Identifies eviction candidates by age, size pressure, and redundancy,
backs up the store when configured, evicts them, and compresses
surviving cold records. Use --dry-run to only list candidates.`,
	RunE: runPrune,
}

// exportCmd writes a graph snapshot to stdout or a file
var exportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Export the knowledge graph as a JSON snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

// importCmd loads a graph snapshot
var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a knowledge graph JSON snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

// restoreCmd restores graph tables from the latest backup
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore knowledge graph tables from the most recent backup",
	RunE:  runRestore,
}

// rebuildCmd rebuilds the graph from the record store
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the knowledge graph from recorded memories",
	Long: `Derives project, technology, and configuration nodes from the record
store and persists the rebuilt graph. With --watch, keeps running and
rebuilds whenever new records land.`,
	RunE: runRebuild,
}

// compactCmd reclaims dead record store lines
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Rewrite record store partitions, dropping tombstoned lines",
	RunE:  runCompact,
}

var (
	pruneDryRun  bool
	rebuildWatch bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: <workspace>/memctl.yaml)")

	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "List candidates without evicting")
	rebuildCmd.Flags().BoolVar(&rebuildWatch, "watch", false, "Keep watching the record store and rebuild on change")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(rebuildCmd)
	rootCmd.AddCommand(compactCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func openStore() (*memory.Store, error) {
	return memory.NewStore(cfg.Memory.Dir)
}

func openGraphStorage() (*graph.Storage, error) {
	return graph.NewStorage(cfg.Graph.Dir, graph.StorageOptions{
		BackupsEnabled:  cfg.Graph.BackupsEnabled,
		BackupRetention: cfg.Graph.BackupRetention,
	})
}

func runStats(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetStats()
	if err != nil {
		return err
	}
	fmt.Printf("Record store: %s\n", cfg.Memory.Dir)
	fmt.Printf("  entries:    %d\n", stats.TotalEntries)
	fmt.Printf("  tombstones: %d\n", stats.Tombstones)
	fmt.Printf("  corrupt:    %d\n", stats.CorruptLines)
	fmt.Printf("  size:       %d bytes\n", stats.StorageBytes)
	for _, typ := range memory.AllTypes() {
		if n := stats.EntriesByType[typ]; n > 0 {
			fmt.Printf("    %-15s %d\n", typ, n)
		}
	}

	storage, err := openGraphStorage()
	if err != nil {
		return err
	}
	gstats, err := storage.GetStatistics()
	if err != nil {
		return err
	}
	fmt.Printf("Knowledge graph: %s\n", cfg.Graph.Dir)
	fmt.Printf("  entities:      %d\n", gstats.EntityCount)
	fmt.Printf("  relationships: %d\n", gstats.RelationshipCount)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	storage, err := openGraphStorage()
	if err != nil {
		return err
	}
	report, err := storage.VerifyIntegrity()
	if err != nil {
		return err
	}
	for _, w := range report.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, e := range report.Errors {
		fmt.Printf("error: %s\n", e)
	}
	if !report.Valid {
		return fmt.Errorf("integrity check failed with %d error(s)", len(report.Errors))
	}
	fmt.Printf("graph OK (%d warning(s))\n", len(report.Warnings))
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	policy := pruning.PolicyFromConfig(cfg.Pruning)
	engine, err := pruning.NewEngine(store, policy)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if pruneDryRun {
		candidates, err := engine.IdentifyPruningCandidates(ctx)
		if err != nil {
			return err
		}
		counts := candidates.Counts()
		fmt.Printf("candidates: age=%d size=%d redundancy=%d (unique=%d)\n",
			counts.ByAge, counts.BySize, counts.ByRedundancy, len(candidates.IDs()))
		for _, id := range candidates.IDs() {
			fmt.Printf("  %s\n", id)
		}
		return nil
	}

	res, err := engine.ExecutePruning(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("run %s\n", res.RunID)
	fmt.Printf("  removed:    %d\n", res.EntriesRemoved)
	fmt.Printf("  compressed: %d\n", res.EntriesCompressed)
	fmt.Printf("  reclaimed:  %d bytes\n", res.BytesReclaimed)
	if res.BackupPath != "" {
		fmt.Printf("  backup:     %s\n", res.BackupPath)
	}
	for _, ee := range res.Errors {
		fmt.Printf("  error: %s\n", ee.Error())
	}
	if !res.ValidationPassed {
		return fmt.Errorf("post-run validation failed")
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	storage, err := openGraphStorage()
	if err != nil {
		return err
	}
	out := os.Stdout
	if len(args) == 1 {
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	return storage.ExportJSON(out)
}

func runImport(cmd *cobra.Command, args []string) error {
	storage, err := openGraphStorage()
	if err != nil {
		return err
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	if err := storage.ImportJSON(f); err != nil {
		return err
	}
	fmt.Println("graph imported")
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	storage, err := openGraphStorage()
	if err != nil {
		return err
	}
	if err := storage.RestoreFromBackup(graph.KindEntities); err != nil {
		return err
	}
	if err := storage.RestoreFromBackup(graph.KindRelationships); err != nil {
		return err
	}
	fmt.Println("graph restored from latest backups")
	return nil
}

func runRebuild(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	storage, err := openGraphStorage()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	g := graph.NewKnowledgeGraph()
	if err := g.BuildFromMemories(ctx, store); err != nil {
		return err
	}
	if err := g.SaveToStorage(storage); err != nil {
		return err
	}
	stats := g.GetStatistics()
	fmt.Printf("graph rebuilt: %d nodes, %d edges\n", stats.NodeCount, stats.EdgeCount)

	if !rebuildWatch && !cfg.Graph.WatchRebuild {
		return nil
	}

	debounce, err := time.ParseDuration(cfg.Graph.RebuildDebounce)
	if err != nil {
		debounce = 0 // watcher default applies
	}
	watcher := graph.NewWatcher(g, store, debounce)
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	fmt.Println("watching for record store changes (Ctrl-C to stop)")
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return g.SaveToStorage(storage)
}

func runCompact(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Compact(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("record store compacted")
	return nil
}
