package versions

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/InvictusSEO/vibephp/internal/workspace"
)

// File change states in a DiffResponse.
const (
	StatusAdded    = "added"
	StatusRemoved  = "removed"
	StatusModified = "modified"
)

// DiffResponse is the difference between two versions.
type DiffResponse struct {
	From         string     `json:"from"`
	To           string     `json:"to"`
	Files        []FileDiff `json:"files"`
	TotalAdded   int        `json:"total_added"`
	TotalRemoved int        `json:"total_removed"`
}

// FileDiff is the line diff of one path. Unchanged files are omitted.
type FileDiff struct {
	Path    string     `json:"path"`
	Status  string     `json:"status"`
	Added   int        `json:"added"`
	Removed int        `json:"removed"`
	Lines   []DiffLine `json:"lines"`
}

// DiffLine represents a single line in the diff
type DiffLine struct {
	Type    string `json:"type"` // add, remove, context
	Content string `json:"content"`
}

// Diff compares the snapshots fromID and toID file by file.
func (s *Store) Diff(fromID, toID string) (DiffResponse, error) {
	from, err := s.Get(fromID)
	if err != nil {
		return DiffResponse{}, err
	}
	to, err := s.Get(toID)
	if err != nil {
		return DiffResponse{}, err
	}

	resp := DiffResponse{From: fromID, To: toID, Files: DiffFiles(from.Files, to.Files)}
	for _, f := range resp.Files {
		resp.TotalAdded += f.Added
		resp.TotalRemoved += f.Removed
	}
	return resp, nil
}

// DiffFiles diffs two file lists. Paths are reported in the order they appear in
// to, followed by paths only present in from.
func DiffFiles(from, to []workspace.File) []FileDiff {
	old := workspace.NewFileSet(from...)
	cur := workspace.NewFileSet(to...)

	var out []FileDiff
	for _, f := range cur.Files() {
		prev, ok := old.Get(f.Path)
		switch {
		case !ok:
			out = append(out, diffText(f.Path, StatusAdded, "", f.Content))
		case prev.Content != f.Content:
			out = append(out, diffText(f.Path, StatusModified, prev.Content, f.Content))
		}
	}
	for _, f := range old.Files() {
		if _, ok := cur.Get(f.Path); !ok {
			out = append(out, diffText(f.Path, StatusRemoved, f.Content, ""))
		}
	}
	return out
}

func diffText(p, status, a, b string) FileDiff {
	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	fd := FileDiff{Path: p, Status: status}
	for _, d := range diffs {
		kind := "context"
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			kind = "add"
		case diffmatchpatch.DiffDelete:
			kind = "remove"
		}
		for _, line := range splitLines(d.Text) {
			fd.Lines = append(fd.Lines, DiffLine{Type: kind, Content: line})
			switch kind {
			case "add":
				fd.Added++
			case "remove":
				fd.Removed++
			}
		}
	}
	return fd
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}
