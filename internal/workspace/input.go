package workspace

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ImportInput copies sourcePath (a file or a directory tree) into the run's
// input area. It may only run once per run.
func (w *Workspace) ImportInput(sourcePath string) error {
	entries, err := os.ReadDir(w.InputDir())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("workspace: read input dir: %w", err)
	}
	if len(entries) > 0 {
		return ErrInputImported
	}
	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("workspace: import input: %w", err)
	}
	if !info.IsDir() {
		return copyFile(sourcePath, filepath.Join(w.InputDir(), filepath.Base(sourcePath)))
	}
	return filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(sourcePath, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(w.InputDir(), rel)
		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := copyFile(path, dest); err != nil {
			return fmt.Errorf("workspace: import %s: %w", rel, err)
		}
		return nil
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
