package workspace

import (
	"path"
	"strings"
)

// Reserved lists infrastructure paths the executor provides itself. They must never be
// generated, displayed, exported or sent for verification from the live set.
//
// A plain entry matches exactly one path. Entries containing glob syntax (*, ?, [...])
// match with path.Match against the full path or the file name, and ** matches any
// depth: "vendor/**" reserves a whole directory, "**/*.sqlite" any SQLite file.
type Reserved []string

// Contains reports whether p names a reserved file.
func (r Reserved) Contains(p string) bool {
	_, ok := r.Match(p)
	return ok
}

// Match returns the entry that reserves p.
func (r Reserved) Match(p string) (string, bool) {
	n := NormalizePath(p)
	if n == "" {
		return "", false
	}
	for _, entry := range r {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !isPattern(entry) {
			if NormalizePath(entry) == n {
				return entry, true
			}
			continue
		}
		if matchPattern(n, entry) {
			return entry, true
		}
	}
	return "", false
}

// Filter returns a copy of files without reserved entries.
func (r Reserved) Filter(files []File) []File {
	out := make([]File, 0, len(files))
	for _, f := range files {
		if r.Contains(f.Path) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

func matchPattern(p, pattern string) bool {
	// Handle ** recursive glob
	if strings.Contains(pattern, "**") {
		parts := strings.SplitN(pattern, "**", 2)
		prefix := strings.TrimRight(parts[0], "/")
		suffix := strings.TrimLeft(parts[1], "/")

		if prefix != "" && p != prefix && !strings.HasPrefix(p, prefix+"/") {
			return false
		}
		if suffix != "" {
			matched, _ := path.Match(suffix, path.Base(p))
			return matched
		}
		// ** with just prefix means everything under that dir
		return true
	}

	if matched, _ := path.Match(pattern, p); matched {
		return true
	}
	matched, _ := path.Match(pattern, path.Base(p))
	return matched
}
