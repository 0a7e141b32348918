package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDisabledLoggingIsNoOp(t *testing.T) {
	if err := Initialize("", false, "info"); err != nil {
		t.Fatalf("Initialize with debug off must not error: %v", err)
	}
	// Safe to log into the void.
	Memory("record %s stored", "abc")
	Get(CategoryGraph).Warn("nothing to see")
	CloseAll()
}

func TestDebugLoggingWritesCategoryFiles(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, true, "debug"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		Initialize("", false, "info")
	}()

	Memory("stored entry %d", 42)
	Pruning("run complete")
	CloseAll()

	files, err := os.ReadDir(filepath.Join(ws, "logs"))
	if err != nil {
		t.Fatalf("logs dir missing: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	joined := strings.Join(names, ",")
	for _, cat := range []string{"memory", "pruning"} {
		if !strings.Contains(joined, "_"+cat+".log") {
			t.Errorf("no log file for category %s in %v", cat, names)
		}
	}

	for _, f := range files {
		if strings.Contains(f.Name(), "_memory.log") {
			raw, err := os.ReadFile(filepath.Join(ws, "logs", f.Name()))
			if err != nil {
				t.Fatalf("read log: %v", err)
			}
			if !strings.Contains(string(raw), "stored entry 42") {
				t.Error("memory log missing formatted message")
			}
		}
	}
}

func TestInitializeRequiresWorkspaceInDebug(t *testing.T) {
	if err := Initialize("", true, "info"); err == nil {
		t.Error("debug mode without a workspace must fail")
	}
	Initialize("", false, "info")
}

func TestTimer(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, true, "debug"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer func() {
		CloseAll()
		Initialize("", false, "info")
	}()

	timer := StartTimer(CategoryMemory, "test operation")
	time.Sleep(5 * time.Millisecond)
	if d := timer.Stop(); d < 5*time.Millisecond {
		t.Errorf("timer measured %v, want at least 5ms", d)
	}

	fast := StartTimer(CategoryMemory, "fast operation")
	// Under threshold: logged only at debug level, still returns elapsed.
	if d := fast.StopWithThreshold(time.Hour); d < 0 {
		t.Errorf("negative duration %v", d)
	}
}
