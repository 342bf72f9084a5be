package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jamesenh/novelgen/internal/errs"
)

// fileWrite is one destination path and the bytes that should land there.
type fileWrite struct {
	path string
	data []byte
}

// completedRename records a rename so it can be undone in reverse order.
type completedRename struct {
	target   string
	backup   string // non-empty if target existed and was backed up
	isCreate bool   // true if target did not exist before this write
}

// atomicWriteBundle writes every file in files or none of them. It stages
// each file under a temp directory on the same filesystem as root (so the
// final step is a plain rename, not a cross-device copy), then renames
// each staged file into place one at a time, backing up any file it
// overwrites first. If any rename fails, every completed rename is undone
// in reverse order before returning an error. Grounded on the original
// system's ArtifactStore._atomic_write_bundle.
func atomicWriteBundle(root string, files []fileWrite) (err error) {
	tempDir, err := os.MkdirTemp(root, "novelgen_atomic_")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	staged := make([]string, len(files))
	for i, f := range files {
		stagePath := filepath.Join(tempDir, fmt.Sprintf("file_%d.json", i))
		if werr := os.WriteFile(stagePath, f.data, 0o644); werr != nil {
			return fmt.Errorf("stage %s: %w", f.path, werr)
		}
		staged[i] = stagePath
	}

	var completed []completedRename
	rollback := func(cause error) error {
		for i := len(completed) - 1; i >= 0; i-- {
			c := completed[i]
			if c.isCreate {
				_ = os.Remove(c.target)
			} else {
				_ = os.Rename(c.backup, c.target)
			}
		}
		return errs.NewAtomicWriteError(files[0].path, cause)
	}

	for i, f := range files {
		if mkErr := os.MkdirAll(filepath.Dir(f.path), 0o755); mkErr != nil {
			return rollback(fmt.Errorf("create dir for %s: %w", f.path, mkErr))
		}

		rec := completedRename{target: f.path}
		if _, statErr := os.Stat(f.path); statErr == nil {
			backupPath := f.path + ".bak"
			if cpErr := copyFile(f.path, backupPath); cpErr != nil {
				return rollback(fmt.Errorf("backup %s: %w", f.path, cpErr))
			}
			rec.backup = backupPath
		} else {
			rec.isCreate = true
		}

		if renErr := os.Rename(staged[i], f.path); renErr != nil {
			return rollback(fmt.Errorf("rename into %s: %w", f.path, renErr))
		}
		completed = append(completed, rec)
	}

	// Success: drop backups, nothing left to roll back.
	for _, c := range completed {
		if c.backup != "" {
			_ = os.Remove(c.backup)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
