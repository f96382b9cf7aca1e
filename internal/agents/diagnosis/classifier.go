// Package diagnosis turns executor failure payloads into structured error records.
//
// Classification is pure and total: any input, including an empty one, yields a
// Details value, and an unmatched message is always carried through verbatim.
package diagnosis

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Kind is the category of a verification failure.
type Kind string

const (
	KindSyntax    Kind = "syntax"
	KindDatabase  Kind = "database"
	KindRuntime   Kind = "runtime"
	KindFramework Kind = "framework"
	KindUnknown   Kind = "unknown"
)

// Details is the structured form of one verification failure.
type Details struct {
	Type       Kind   `json:"type"`
	File       string `json:"file"`
	Line       int    `json:"line,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Payload is the failure body returned by the executor. Only Error is guaranteed;
// the structured fields are set by executors that classify errors themselves.
type Payload struct {
	Error      string `json:"error"`
	ErrorType  string `json:"errorType,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	Code       string `json:"code,omitempty"`
	StackTrace string `json:"stackTrace,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Classifier holds the project conventions used for extraction and suggestions.
type Classifier struct {
	// EntryFile is reported when the message names no file.
	EntryFile string
	// Namespace is the helper framework's PHP namespace, without slashes.
	Namespace string
	// FrameworkFile is the include that defines the framework classes.
	FrameworkFile string
	// Methods are the public framework methods used for misspelling suggestions.
	Methods []string
}

// FrameworkMethods is the public surface of the bundled Vibe helper classes.
var FrameworkMethods = []string{
	"query", "execute", "fetch", "fetchAll", "fetchOne", "fetchColumn",
	"insert", "update", "delete", "select", "table", "where", "count", "exists",
	"prepare", "lastInsertId", "beginTransaction", "commit", "rollBack",
	"connect", "migrate", "escape", "render", "redirect", "json", "input",
}

// Default returns the classifier for the standard VibePHP sandbox.
func Default() *Classifier {
	return &Classifier{
		EntryFile:     "index.php",
		Namespace:     "Vibe",
		FrameworkFile: "vibe.php",
		Methods:       FrameworkMethods,
	}
}

// Classify classifies p with the default conventions.
func Classify(p Payload) Details {
	return Default().Classify(p)
}

var (
	// in /var/www/sess_x/index.php on line 12
	locationRe = regexp.MustCompile(`(?i)\bin\s+(\S+?)\s+on\s+line\s+(\d+)`)
	// thrown in /var/www/index.php:12
	colonLocationRe = regexp.MustCompile(`(?i)\bin\s+(\S+?\.\w+):(\d+)\b`)
	stackTraceRe    = regexp.MustCompile(`(?is)stack trace:\s*(.*)$`)
	sessionDirRe    = regexp.MustCompile(`(?i)(?:^|/)sess_[a-z0-9]+/`)
	sessionPrefixRe = regexp.MustCompile(`(?i)^sess_[a-z0-9]+_`)
	unexpectedRe    = regexp.MustCompile(`(?i)unexpected\s+(?:(?:token|variable|identifier)\s+)?("[^"]*"|'[^']*'|[^\s,]+)`)
)

type rule struct {
	name  string
	re    *regexp.Regexp
	kind  Kind
	build func(c *Classifier, m []string, d *Details)
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{
		name: "missing_table",
		re:   regexp.MustCompile(`(?i)(?:table\s+'([^']+)'\s+doesn't\s+exist|no\s+such\s+table:\s*([\w.]+))`),
		kind: KindDatabase,
		build: func(c *Classifier, m []string, d *Details) {
			table := tableName(firstNonEmpty(m[1:]...))
			d.Code = createTableSnippet(table)
			d.Suggestion = fmt.Sprintf("The table '%s' does not exist yet. Create it at the start of the script before querying it:\n%s", table, d.Code)
		},
	},
	{
		name: "unknown_column",
		re:   regexp.MustCompile(`(?i)(?:unknown\s+column\s+'([^']+)'|no\s+such\s+column:\s*([\w.]+)|has\s+no\s+column\s+named\s+(\w+))`),
		kind: KindDatabase,
		build: func(c *Classifier, m []string, d *Details) {
			column := firstNonEmpty(m[1:]...)
			if i := strings.LastIndex(column, "."); i >= 0 {
				column = column[i+1:]
			}
			d.Code = column
			d.Suggestion = fmt.Sprintf("The column '%s' is not defined. Add it to the CREATE TABLE statement or fix the column name in the query.", column)
		},
	},
	{
		name: "sql_syntax",
		re:   regexp.MustCompile(`(?i)(?:error\s+in\s+your\s+sql\s+syntax|sqlstate\[\w+\][^\n]*syntax\s+error|near\s+"[^"]*"\s*:\s*syntax\s+error)`),
		kind: KindDatabase,
		build: func(c *Classifier, m []string, d *Details) {
			d.Suggestion = "The SQL statement is malformed. Check quoting, commas between columns and that the statement uses SQLite syntax."
		},
	},
	{
		name: "duplicate_entry",
		re:   regexp.MustCompile(`(?i)(?:duplicate\s+entry\s+'([^']*)'|unique\s+constraint\s+failed:?\s*([\w.]*))`),
		kind: KindDatabase,
		build: func(c *Classifier, m []string, d *Details) {
			d.Code = firstNonEmpty(m[1:]...)
			d.Suggestion = "A row with the same unique value already exists. Check for an existing row before inserting, or use INSERT OR IGNORE."
		},
	},
	{
		name: "parse_error",
		re:   regexp.MustCompile(`(?i)(?:parse\s+error|syntax\s+error|unexpected)`),
		kind: KindSyntax,
		build: func(c *Classifier, m []string, d *Details) {
			if um := unexpectedRe.FindStringSubmatch(d.Message); um != nil {
				d.Code = strings.Trim(um[1], `"'`)
				d.Suggestion = fmt.Sprintf("PHP could not parse the file near the unexpected token %q. Check for a missing semicolon, bracket or quote on or just before the reported line.", d.Code)
				return
			}
			d.Suggestion = "PHP could not parse the file. Check for a missing semicolon, bracket or quote on or just before the reported line."
		},
	},
	{
		name: "framework_method",
		re:   regexp.MustCompile(`(?i)call\s+to\s+undefined\s+method\s+\\?(vibe\\[\w\\]+)::(\w+)\(\)`),
		kind: KindFramework,
		build: func(c *Classifier, m []string, d *Details) {
			class, method := m[1], m[2]
			d.Code = method
			if best, ok := c.closestMethod(method); ok {
				d.Suggestion = fmt.Sprintf("%s has no method %s(). Did you mean %s::%s()?", class, method, class, best)
				return
			}
			d.Suggestion = fmt.Sprintf("%s has no method %s(). Check the framework documentation for the available methods.", class, method)
		},
	},
	{
		name: "framework_class",
		re:   regexp.MustCompile(`(?i)class\s+["']?\\?(vibe\\[\w\\]+)["']?\s+not\s+found`),
		kind: KindFramework,
		build: func(c *Classifier, m []string, d *Details) {
			d.Code = fmt.Sprintf("require_once __DIR__ . '/%s';", c.frameworkFile())
			d.Suggestion = fmt.Sprintf("The class %s is not loaded. Add this line at the top of the file:\n%s", m[1], d.Code)
		},
	},
	{
		name: "undefined_variable",
		re:   regexp.MustCompile(`(?i)undefined\s+variable:?\s*\$?(\w+)`),
		kind: KindRuntime,
		build: func(c *Classifier, m []string, d *Details) {
			d.Code = "$" + m[1]
			d.Suggestion = fmt.Sprintf("The variable $%s is used before it is assigned. Initialize it or check the spelling.", m[1])
		},
	},
	{
		name: "division_by_zero",
		re:   regexp.MustCompile(`(?i)(?:division|modulo)\s+by\s+zero`),
		kind: KindRuntime,
		build: func(c *Classifier, m []string, d *Details) {
			d.Suggestion = "A value is divided by zero. Guard the divisor with a check before dividing."
		},
	},
}

// Classify turns an executor failure into Details. Structured fields in the payload
// are trusted, with an unrecognised type folded into KindUnknown; otherwise the
// message is pattern-matched.
func (c *Classifier) Classify(p Payload) Details {
	if p.ErrorType != "" && p.File != "" {
		return Details{
			Type:       knownKind(p.ErrorType),
			File:       p.File,
			Line:       p.Line,
			Code:       p.Code,
			Message:    p.Error,
			StackTrace: p.StackTrace,
			Suggestion: p.Suggestion,
		}
	}

	d := Details{
		Type:       KindUnknown,
		Message:    p.Error,
		File:       c.entryFile(),
		StackTrace: p.StackTrace,
	}

	if file, line, ok := extractLocation(p.Error); ok {
		d.File = file
		d.Line = line
	}
	if d.StackTrace == "" {
		if m := stackTraceRe.FindStringSubmatch(p.Error); m != nil {
			d.StackTrace = strings.TrimSpace(m[1])
		}
	}

	// Paths such as sqlite_helpers.php must not steer the rules.
	text := stripLocation(p.Error)
	for _, r := range rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		d.Type = r.kind
		r.build(c, m, &d)
		break
	}

	return d
}

// knownKind maps a structured error type onto Kind. Values outside the enum
// become KindUnknown.
func knownKind(raw string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindSyntax, KindDatabase, KindRuntime, KindFramework:
		return k
	default:
		return KindUnknown
	}
}

func stripLocation(msg string) string {
	msg = locationRe.ReplaceAllString(msg, "")
	return colonLocationRe.ReplaceAllString(msg, "")
}

// Format renders Details as the chat message shown after a failed dry run.
func Format(d Details) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "**%s error** in `%s`", label(d.Type), d.File)
	if d.Line > 0 {
		fmt.Fprintf(&sb, " (line %d)", d.Line)
	}
	sb.WriteString("\n\n```\n")
	sb.WriteString(strings.TrimSpace(d.Message))
	sb.WriteString("\n```")
	if d.Suggestion != "" {
		sb.WriteString("\n\nSuggestion: ")
		sb.WriteString(d.Suggestion)
	}
	return sb.String()
}

func label(k Kind) string {
	switch k {
	case KindSyntax:
		return "Syntax"
	case KindDatabase:
		return "Database"
	case KindRuntime:
		return "Runtime"
	case KindFramework:
		return "Framework"
	case KindUnknown, "":
		return "Unknown"
	default:
		s := string(k)
		return strings.ToUpper(s[:1]) + s[1:]
	}
}

func (c *Classifier) entryFile() string {
	if c.EntryFile == "" {
		return "index.php"
	}
	return c.EntryFile
}

func (c *Classifier) frameworkFile() string {
	if c.FrameworkFile == "" {
		return "vibe.php"
	}
	return c.FrameworkFile
}

// closestMethod returns the known method with the smallest edit distance to name.
func (c *Classifier) closestMethod(name string) (string, bool) {
	best := ""
	bestDist := -1
	lower := strings.ToLower(name)
	for _, candidate := range c.Methods {
		dist := levenshtein.ComputeDistance(lower, strings.ToLower(candidate))
		if bestDist < 0 || dist < bestDist {
			best, bestDist = candidate, dist
		}
	}
	return best, bestDist >= 0
}

func extractLocation(msg string) (string, int, bool) {
	m := locationRe.FindStringSubmatch(msg)
	if m == nil {
		m = colonLocationRe.FindStringSubmatch(msg)
	}
	if m == nil {
		return "", 0, false
	}
	line, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return relativePath(m[1]), line, true
}

// relativePath maps an executor path such as /var/www/sess_ab12/lib/db.php to lib/db.php.
func relativePath(p string) string {
	p = strings.Trim(p, `"'`)
	if loc := sessionDirRe.FindAllStringIndex(p, -1); len(loc) > 0 {
		return p[loc[len(loc)-1][1]:]
	}
	if strings.HasPrefix(p, "/") {
		return path.Base(p)
	}
	return strings.TrimPrefix(p, "./")
}

func tableName(raw string) string {
	if i := strings.LastIndex(raw, "."); i >= 0 {
		raw = raw[i+1:]
	}
	return sessionPrefixRe.ReplaceAllString(raw, "")
}

func createTableSnippet(table string) string {
	return fmt.Sprintf(`$pdo->exec("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, created_at DATETIME DEFAULT CURRENT_TIMESTAMP)");`, table)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
