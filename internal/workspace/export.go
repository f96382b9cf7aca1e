package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned when a generated path would escape the export root.
type ErrUnsafePath struct {
	Path string
}

func (e *ErrUnsafePath) Error() string {
	return fmt.Sprintf("path %q escapes the project root", e.Path)
}

// CheckPath rejects empty paths and paths that climb above the root once cleaned.
func CheckPath(p string) error {
	n := NormalizePath(p)
	if n == "" || n == "." || n == ".." || strings.HasPrefix(n, "../") || strings.Contains(n, ":") {
		return &ErrUnsafePath{Path: p}
	}
	return nil
}

// WriteZip streams files into a zip archive. Callers pass the exported set so reserved
// files are already excluded.
func WriteZip(w io.Writer, files []File) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		if err := CheckPath(f.Path); err != nil {
			return err
		}
		entry, err := zw.Create(NormalizePath(f.Path))
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", f.Path, err)
		}
		if _, err := io.WriteString(entry, f.Content); err != nil {
			return fmt.Errorf("failed to write %s to archive: %w", f.Path, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

// WriteDir writes files under dir, creating parent directories as needed.
func WriteDir(dir string, files []File) error {
	for _, f := range files {
		if err := CheckPath(f.Path); err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(NormalizePath(f.Path)))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.Path, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Path, err)
		}
	}
	return nil
}
