// Package patch applies line-addressed replacements proposed by the fix model.
package patch

import (
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/InvictusSEO/vibephp/internal/logging"
)

// Patch replaces a single 1-based line.
type Patch struct {
	LineNumber  int    `json:"lineNumber"`
	OldCode     string `json:"oldCode"`
	NewCode     string `json:"newCode"`
	Explanation string `json:"explanation"`
}

// Fix is a model-proposed patch set for one file.
type Fix struct {
	File       string  `json:"file"`
	Patches    []Patch `json:"patches"`
	Analysis   string  `json:"analysis"`
	RootCause  string  `json:"rootCause"`
	Confidence int     `json:"confidence"`
}

// Skip reasons reported for patches that were not applied.
const (
	ReasonOutOfRange = "line out of range"
	ReasonMismatch   = "line does not match expected code"
)

// Outcome records what happened to one patch.
type Outcome struct {
	Patch  Patch  `json:"patch"`
	Loose  bool   `json:"loose,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Report lists applied and skipped patches.
type Report struct {
	Applied []Outcome `json:"applied"`
	Skipped []Outcome `json:"skipped"`
}

// Changed reports whether any patch was applied.
func (r Report) Changed() bool { return len(r.Applied) > 0 }

// MatchExact compares lines after trimming surrounding whitespace.
func MatchExact(current, expected string) bool {
	return strings.TrimSpace(current) == strings.TrimSpace(expected)
}

// MatchLoose compares lines with every whitespace character removed.
func MatchLoose(current, expected string) bool {
	return stripSpace(current) == stripSpace(expected)
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Apply applies patches to content from the highest line number down. Patches that
// fall outside the file or whose line does not match are skipped; the rest still apply.
func Apply(content string, patches []Patch) (string, Report) {
	var report Report
	if len(patches) == 0 {
		return content, report
	}

	lines := strings.Split(content, "\n")

	ordered := make([]Patch, len(patches))
	copy(ordered, patches)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LineNumber > ordered[j].LineNumber
	})

	log := logging.Named("patch")
	for _, p := range ordered {
		idx := p.LineNumber - 1
		if idx < 0 || idx >= len(lines) {
			log.Warn("skipping patch outside file",
				zap.Int("line", p.LineNumber),
				zap.Int("lines", len(lines)))
			report.Skipped = append(report.Skipped, Outcome{Patch: p, Reason: ReasonOutOfRange})
			continue
		}

		current := lines[idx]
		loose := false
		switch {
		case MatchExact(current, p.OldCode):
		case MatchLoose(current, p.OldCode):
			loose = true
		default:
			log.Warn("skipping mismatched patch",
				zap.Int("line", p.LineNumber),
				zap.String("expected", strings.TrimSpace(p.OldCode)),
				zap.String("actual", strings.TrimSpace(current)))
			report.Skipped = append(report.Skipped, Outcome{Patch: p, Reason: ReasonMismatch})
			continue
		}

		replaced := indentation(current) + strings.TrimRight(strings.TrimLeft(p.NewCode, " \t"), "\r")
		if strings.HasSuffix(current, "\r") {
			replaced += "\r"
		}
		lines[idx] = replaced
		report.Applied = append(report.Applied, Outcome{Patch: p, Loose: loose})
	}

	return strings.Join(lines, "\n"), report
}

func indentation(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
