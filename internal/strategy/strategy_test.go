package strategy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/theweak1/backupsvc/internal/types"
)

func writeFile(t *testing.T, path string, body string, mtime time.Time) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("setup: mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("setup: write %s: %v", path, err)
	}
	if !mtime.IsZero() {
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatalf("setup: chtimes %s: %v", path, err)
		}
	}
}

func TestFull_AnalyzeAndPrepare(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	target := filepath.Join(root, "target")

	writeFile(t, filepath.Join(source, "a.txt"), "a", time.Time{})
	writeFile(t, filepath.Join(source, "nested", "b.jpg"), "b", time.Time{})

	f := NewFull(Params{
		JobName:            "Documents",
		Source:             source,
		Target:             target,
		PriorityExtensions: map[string]struct{}{".jpg": {}},
	})

	items, err := f.Analyze()
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}

	var sawPriority bool
	for _, it := range items {
		if it.IsPriority {
			sawPriority = true
		}
	}
	if !sawPriority {
		t.Fatal("want at least one item flagged IsPriority for the .jpg extension")
	}

	if err := f.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "full", "full")); err != nil {
		t.Fatalf("want marker file under target/full/, got %v", err)
	}
}

func TestFull_Analyze_SourceMissing(t *testing.T) {
	root := t.TempDir()
	f := NewFull(Params{Source: filepath.Join(root, "nope"), Target: filepath.Join(root, "target")})

	_, err := f.Analyze()
	if err != ErrSourceMissing {
		t.Fatalf("want ErrSourceMissing, got %v", err)
	}
}

func TestDifferential_FirstRunFallsBackToFull(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	target := filepath.Join(root, "target")
	writeFile(t, filepath.Join(source, "a.txt"), "a", time.Time{})

	d := NewDifferential(Params{JobName: "Documents", Source: source, Target: target})

	items, err := d.Analyze()
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(items) != 1 || items[0].DestinationPath != filepath.Join(target, "full", "a.txt") {
		t.Fatalf("want one item destined under target/full/, got %+v", items)
	}

	if err := d.Prepare(); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "full", "full")); err != nil {
		t.Fatalf("fallback Prepare must create target/full/full marker, got %v", err)
	}
}

func TestDifferential_SecondRun_OnlyNewerFiles(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	target := filepath.Join(root, "target")

	old := time.Now().Add(-48 * time.Hour)
	writeFile(t, filepath.Join(source, "unchanged.txt"), "u", old)
	writeFile(t, filepath.Join(source, "changed.txt"), "c", old)

	first := NewDifferential(Params{JobName: "Documents", Source: source, Target: target})
	if _, err := first.Analyze(); err != nil {
		t.Fatalf("first Analyze: %v", err)
	}
	if err := first.Prepare(); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}
	// Simulate the copies the scheduler makes after the first Prepare.
	writeFile(t, filepath.Join(target, "full", "unchanged.txt"), "u", old)
	writeFile(t, filepath.Join(target, "full", "changed.txt"), "c", old)

	// Simulate a later edit and a brand-new file.
	writeFile(t, filepath.Join(source, "changed.txt"), "c2", time.Now().Add(time.Hour))
	writeFile(t, filepath.Join(source, "new.txt"), "n", time.Now().Add(time.Hour))

	second := NewDifferential(Params{JobName: "Documents", Source: source, Target: target})
	items, err := second.Analyze()
	if err != nil {
		t.Fatalf("second Analyze: %v", err)
	}

	names := map[string]bool{}
	for _, it := range items {
		names[filepath.Base(it.SourcePath)] = true
		if filepath.Dir(it.DestinationPath) != filepath.Join(target, "differential") {
			t.Fatalf("want destination under target/differential/, got %s", it.DestinationPath)
		}
	}
	if names["unchanged.txt"] {
		t.Fatal("unchanged.txt has an older-or-equal mtime and must not be re-copied")
	}
	if !names["changed.txt"] || !names["new.txt"] {
		t.Fatalf("want changed.txt and new.txt in the differential set, got %v", names)
	}
}

func TestDifferential_Prepare_WritesDeletedFilesReport(t *testing.T) {
	root := t.TempDir()
	source := filepath.Join(root, "source")
	target := filepath.Join(root, "target")

	writeFile(t, filepath.Join(source, "keep.txt"), "k", time.Time{})
	writeFile(t, filepath.Join(source, "remove.txt"), "r", time.Time{})

	first := NewDifferential(Params{JobName: "Documents", Source: source, Target: target})
	if _, err := first.Analyze(); err != nil {
		t.Fatalf("first Analyze: %v", err)
	}
	if err := first.Prepare(); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}
	// Simulate the copies the scheduler makes after the first Prepare.
	writeFile(t, filepath.Join(target, "full", "keep.txt"), "k", time.Time{})
	writeFile(t, filepath.Join(target, "full", "remove.txt"), "r", time.Time{})

	if err := os.Remove(filepath.Join(source, "remove.txt")); err != nil {
		t.Fatalf("setup: remove source file: %v", err)
	}

	second := NewDifferential(Params{JobName: "Documents", Source: source, Target: target})
	if _, err := second.Analyze(); err != nil {
		t.Fatalf("second Analyze: %v", err)
	}
	if err := second.Prepare(); err != nil {
		t.Fatalf("second Prepare: %v", err)
	}

	report := filepath.Join(target, "differential", deletedFilesReport)
	body, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("want deleted-files report, got %v", err)
	}
	if !strings.Contains(string(body), "remove.txt") {
		t.Fatalf("want report to mention remove.txt, got %q", body)
	}
	if strings.Contains(string(body), "keep.txt") {
		t.Fatalf("report must not mention a file that still exists in source, got %q", body)
	}
}

func TestDifferential_Prepare_BeforeAnalyze(t *testing.T) {
	d := NewDifferential(Params{JobName: "X", Source: t.TempDir(), Target: t.TempDir()})
	if err := d.Prepare(); err == nil {
		t.Fatal("want an error calling Prepare before Analyze")
	}
}

func TestNew_SelectsVariantByKind(t *testing.T) {
	p := Params{JobName: "X", Source: t.TempDir(), Target: t.TempDir()}

	if _, ok := New(types.KindFull, p).(*Full); !ok {
		t.Fatal("want *Full for KindFull")
	}
	if _, ok := New(types.KindDifferential, p).(*Differential); !ok {
		t.Fatal("want *Differential for KindDifferential")
	}
}
