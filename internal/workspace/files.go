// Package workspace holds the live file set of a generated PHP application.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"path/filepath"
	"strings"
)

// File is one source file of the generated application. Path is its identity.
type File struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

// NewFile builds a File and infers its language from the extension.
func NewFile(p, content string) File {
	return File{Path: p, Content: content, Language: DetectLanguage(p)}
}

// DetectLanguage maps a file extension to the editor language id.
func DetectLanguage(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".php", ".phtml":
		return "php"
	case ".html", ".htm":
		return "html"
	case ".css":
		return "css"
	case ".js", ".mjs":
		return "javascript"
	case ".json":
		return "json"
	case ".sql":
		return "sql"
	case ".md":
		return "markdown"
	default:
		return "text"
	}
}

// NormalizePath strips a leading "./" or "/" so "./index.php" and "index.php" compare equal.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// CloneFiles returns a copy of files. Strings are immutable so a slice copy is a deep copy.
func CloneFiles(files []File) []File {
	if files == nil {
		return nil
	}
	out := make([]File, len(files))
	copy(out, files)
	return out
}

// FileSet is an ordered, path-keyed collection of files. Insertion order is kept for
// display; lookups are by path. It is not safe for concurrent use.
type FileSet struct {
	files []File
}

// NewFileSet creates a set from files. Later duplicates replace earlier ones.
func NewFileSet(files ...File) *FileSet {
	fs := &FileSet{}
	fs.Merge(files)
	return fs
}

// Len returns the number of files.
func (fs *FileSet) Len() int { return len(fs.files) }

func (fs *FileSet) index(p string) int {
	n := NormalizePath(p)
	for i, f := range fs.files {
		if NormalizePath(f.Path) == n {
			return i
		}
	}
	return -1
}

// Get returns the file at path.
func (fs *FileSet) Get(p string) (File, bool) {
	if i := fs.index(p); i >= 0 {
		return fs.files[i], true
	}
	return File{}, false
}

// Upsert replaces the file with the same path in place, or appends it.
// It reports whether an existing file was replaced.
func (fs *FileSet) Upsert(f File) bool {
	f.Path = NormalizePath(f.Path)
	if f.Language == "" {
		f.Language = DetectLanguage(f.Path)
	}
	if i := fs.index(f.Path); i >= 0 {
		fs.files[i] = f
		return true
	}
	fs.files = append(fs.files, f)
	return false
}

// Merge upserts every file with a non-empty path and returns how many were added and replaced.
func (fs *FileSet) Merge(files []File) (added, replaced int) {
	for _, f := range files {
		if NormalizePath(f.Path) == "" {
			continue
		}
		if fs.Upsert(f) {
			replaced++
		} else {
			added++
		}
	}
	return added, replaced
}

// Replace swaps the content of an existing file. It reports false if path is unknown.
func (fs *FileSet) Replace(p, content string) bool {
	i := fs.index(p)
	if i < 0 {
		return false
	}
	fs.files[i].Content = content
	return true
}

// StripReserved removes reserved files and returns how many were dropped.
func (fs *FileSet) StripReserved(r Reserved) int {
	kept := fs.files[:0]
	dropped := 0
	for _, f := range fs.files {
		if r.Contains(f.Path) {
			dropped++
			continue
		}
		kept = append(kept, f)
	}
	// clear the tail so dropped contents can be collected
	for i := len(kept); i < len(fs.files); i++ {
		fs.files[i] = File{}
	}
	fs.files = kept
	return dropped
}

// Files returns a copy of the files in display order.
func (fs *FileSet) Files() []File {
	return CloneFiles(fs.files)
}

// Paths returns file paths in display order.
func (fs *FileSet) Paths() []string {
	out := make([]string, len(fs.files))
	for i, f := range fs.files {
		out[i] = f.Path
	}
	return out
}

// Clone returns an independent copy of the set.
func (fs *FileSet) Clone() *FileSet {
	return &FileSet{files: CloneFiles(fs.files)}
}

// Export returns the downloadable files: everything except reserved paths.
func (fs *FileSet) Export(r Reserved) []File {
	return r.Filter(fs.files)
}

// Fingerprint hashes paths and contents in order. Equal sets give equal fingerprints.
func (fs *FileSet) Fingerprint() string {
	return Fingerprint(fs.files)
}

// Fingerprint hashes a file list in order.
func Fingerprint(files []File) string {
	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		h.Write([]byte(f.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DefaultActive picks the file a viewer should open: the entry file if present, else the first.
func DefaultActive(files []File, entry string) (File, bool) {
	if len(files) == 0 {
		return File{}, false
	}
	n := NormalizePath(entry)
	for _, f := range files {
		if NormalizePath(f.Path) == n {
			return f, true
		}
	}
	return files[0], true
}

const welcomePage = `<?php
// Welcome to VibePHP
// Start by describing your app in the chat.
// We use SQLite for data persistence.

$title = "VibePHP";
echo "<h1>Hello World</h1>";
echo "<p>Ready to build with PHP & SQLite.</p>";
?>`

// InitialFiles returns the starter file set of a new workspace.
func InitialFiles() []File {
	return []File{NewFile("index.php", welcomePage)}
}
