// Package strategy implements the Full and Differential backup variants:
// each computes its file-copy work list (Analyze) and prepares the
// destination layout (Prepare) before any copy starts.
//
// relUnderRoot computes a relative path with an escape check, and
// newerOrAbsent is the strictly-newer ModTime comparison the
// differential rule calls for. Strategy never writes file content, only
// directory structure and a deleted-files report, but Prepare follows
// the same "stage safely, fail loud" spirit when clearing and
// recreating target subtrees.
package strategy

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/theweak1/backupsvc/internal/types"
)

// ErrSourceMissing reports that the job's source directory does not
// exist at analysis time.
var ErrSourceMissing = fmt.Errorf("source directory does not exist")

// ErrPathEscapesRoot guards relUnderRoot against a path resolving
// outside of its root.
var ErrPathEscapesRoot = fmt.Errorf("path escapes source root")

const (
	fullDirName         = "full"
	differentialDirName = "differential"
	deletedFilesReport  = "_deleted_files.txt"
	fullMarkerFile      = "full"
)

// Strategy is the two-operation contract every backup variant implements.
type Strategy interface {
	// Analyze performs a read-only traversal and returns every file this
	// job must copy this run, with destination, size, and the two
	// classification flags already computed.
	Analyze() ([]types.FileWorkItem, error)

	// Prepare performs the single destructive step before copies begin.
	// Must be idempotent across re-runs against the same target.
	Prepare() error
}

// Params are the inputs every variant needs, snapshotted by the caller
// under the configuration lock before constructing a Strategy.
type Params struct {
	JobName              string
	Source               string
	Target               string
	PriorityExtensions   map[string]struct{}
	EncryptionExtensions map[string]struct{}
}

// Full implements the Full variant: every file under Source is copied to
// <Target>/full/<relative>.
type Full struct {
	Params
}

// NewFull constructs a Full strategy.
func NewFull(p Params) *Full { return &Full{Params: p} }

func (f *Full) destRoot() string { return filepath.Join(f.Target, fullDirName) }

func (f *Full) Analyze() ([]types.FileWorkItem, error) {
	return walkForItems(f.Source, f.destRoot(), f.JobName, f.PriorityExtensions, f.EncryptionExtensions)
}

func (f *Full) Prepare() error {
	return clearAndRecreate(f.destRoot(), fullMarkerFile)
}

// Differential implements the Differential variant. If <Target>/full/
// does not exist when Analyze runs, it behaves exactly as Full (and
// remembers that decision so Prepare clears <Target>/full/ instead of
// <Target>/differential/). If <Target>/full/ exists, only files that are
// new or strictly newer than their <Target>/full/ counterpart are
// enqueued, destined for <Target>/differential/, and Prepare also writes
// the deleted-files report.
type Differential struct {
	Params

	// fellBackToFull records which branch Analyze took, so Prepare
	// matches it. Set by Analyze; Prepare must not be called first.
	fellBackToFull bool
	analyzed       bool
}

// NewDifferential constructs a Differential strategy.
func NewDifferential(p Params) *Differential { return &Differential{Params: p} }

func (d *Differential) fullRoot() string { return filepath.Join(d.Target, fullDirName) }
func (d *Differential) diffRoot() string { return filepath.Join(d.Target, differentialDirName) }

func (d *Differential) Analyze() ([]types.FileWorkItem, error) {
	fullRoot := d.fullRoot()

	if _, err := os.Stat(fullRoot); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat full root: %w", err)
		}
		d.fellBackToFull = true
		d.analyzed = true
		return walkForItems(d.Source, fullRoot, d.JobName, d.PriorityExtensions, d.EncryptionExtensions)
	}

	d.fellBackToFull = false
	d.analyzed = true

	var items []types.FileWorkItem
	err := filepath.WalkDir(d.Source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := relUnderRoot(d.Source, path)
		if err != nil {
			return err
		}

		counterpart := filepath.Join(fullRoot, rel)
		include, err := newerOrAbsent(path, counterpart)
		if err != nil {
			return err
		}
		if !include {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		ext := types.NormalizeExt(filepath.Ext(path))
		_, priority := d.PriorityExtensions[ext]
		_, encrypted := d.EncryptionExtensions[ext]

		items = append(items, types.FileWorkItem{
			SourcePath:         path,
			DestinationPath:    filepath.Join(d.diffRoot(), rel),
			JobName:            d.JobName,
			Size:               info.Size(),
			IsPriority:         priority,
			RequiresEncryption: encrypted,
		})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSourceMissing
		}
		return nil, fmt.Errorf("analyze %s: %w", d.Source, err)
	}

	return items, nil
}

// Prepare clears and recreates the destination subtree Analyze decided
// to use, and for the genuine-differential branch writes the
// deleted-files report: every relative path present under <target>/full/
// but no longer present under source.
func (d *Differential) Prepare() error {
	if !d.analyzed {
		return fmt.Errorf("differential strategy: Prepare called before Analyze")
	}

	if d.fellBackToFull {
		return clearAndRecreate(d.fullRoot(), fullMarkerFile)
	}

	if err := clearAndRecreate(d.diffRoot(), ""); err != nil {
		return err
	}

	deleted, err := deletedRelativePaths(d.Source, d.fullRoot())
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return nil
	}

	sort.Strings(deleted)
	content := strings.Join(deleted, "\n") + "\n"
	return os.WriteFile(filepath.Join(d.diffRoot(), deletedFilesReport), []byte(content), 0o644)
}

// walkForItems is the Full-shaped traversal shared by Full.Analyze and
// Differential.Analyze's fallback branch: every file under source,
// unconditionally.
func walkForItems(source, destRoot, jobName string, priorityExt, encryptionExt map[string]struct{}) ([]types.FileWorkItem, error) {
	if _, err := os.Stat(source); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSourceMissing
		}
		return nil, fmt.Errorf("stat source: %w", err)
	}

	var items []types.FileWorkItem
	err := filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}

		rel, err := relUnderRoot(source, path)
		if err != nil {
			return err
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		ext := types.NormalizeExt(filepath.Ext(path))
		_, priority := priorityExt[ext]
		_, encrypted := encryptionExt[ext]

		items = append(items, types.FileWorkItem{
			SourcePath:         path,
			DestinationPath:    filepath.Join(destRoot, rel),
			JobName:            jobName,
			Size:               info.Size(),
			IsPriority:         priority,
			RequiresEncryption: encrypted,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", source, err)
	}
	return items, nil
}

// relUnderRoot computes full's path relative to root, rejecting any
// result that would escape root.
func relUnderRoot(root, full string) (string, error) {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return "", err
	}
	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscapesRoot
	}
	return rel, nil
}

// newerOrAbsent reports whether srcPath should be included in a
// differential run: its full-backup counterpart is missing, or srcPath's
// ModTime is strictly greater than the counterpart's. Ties never
// trigger re-copy.
func newerOrAbsent(srcPath, counterpart string) (bool, error) {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return false, fmt.Errorf("stat source file: %w", err)
	}

	dstInfo, err := os.Stat(counterpart)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("stat full-backup counterpart: %w", err)
	}

	return srcInfo.ModTime().After(dstInfo.ModTime()), nil
}

// deletedRelativePaths walks fullRoot and returns every relative path
// that no longer exists under source, for the differential deletion
// report.
func deletedRelativePaths(source, fullRoot string) ([]string, error) {
	var deleted []string
	err := filepath.WalkDir(fullRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		if entry.Name() == fullMarkerFile && filepath.Dir(path) == fullRoot {
			return nil
		}

		rel, err := relUnderRoot(fullRoot, path)
		if err != nil {
			return err
		}

		if _, err := os.Stat(filepath.Join(source, rel)); os.IsNotExist(err) {
			deleted = append(deleted, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan full backup for deletions: %w", err)
	}
	return deleted, nil
}

// clearAndRecreate removes dir and everything under it, recreates dir
// empty, then writes an empty marker
// file named marker inside it (skipped when marker is empty).
func clearAndRecreate(dir string, marker string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("recreate %s: %w", dir, err)
	}
	if marker == "" {
		return nil
	}
	return os.WriteFile(filepath.Join(dir, marker), nil, 0o644)
}

// New builds the Strategy variant matching kind.
func New(kind types.JobKind, p Params) Strategy {
	switch kind {
	case types.KindDifferential:
		return NewDifferential(p)
	default:
		return NewFull(p)
	}
}
