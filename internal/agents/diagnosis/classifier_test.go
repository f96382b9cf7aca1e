package diagnosis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMissingTableStripsSessionPrefix(t *testing.T) {
	d := Classify(Payload{Error: "SQLSTATE[42S02]: Base table or view not found: 1146 Table 'sess_abc123_todos' doesn't exist"})

	assert.Equal(t, KindDatabase, d.Type)
	assert.Equal(t, "index.php", d.File)
	assert.Contains(t, d.Suggestion, "todos")
	assert.NotContains(t, d.Suggestion, "sess_abc123_")
	assert.Contains(t, d.Suggestion, "CREATE TABLE IF NOT EXISTS todos")
}

func TestClassifySQLiteMissingTable(t *testing.T) {
	d := Classify(Payload{Error: "SQLSTATE[HY000]: General error: 1 no such table: main.sess_9f_users in /var/www/sess_9f/api/users.php on line 7"})

	assert.Equal(t, KindDatabase, d.Type)
	assert.Equal(t, "api/users.php", d.File)
	assert.Equal(t, 7, d.Line)
	assert.Contains(t, d.Code, "CREATE TABLE IF NOT EXISTS users")
}

func TestClassifyPatternsInPriorityOrder(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		kind Kind
		code string
	}{
		{"unknown column", "Unknown column 'titel' in 'field list'", KindDatabase, "titel"},
		{"sqlite column", "table todos has no column named done", KindDatabase, "done"},
		{"sql syntax", "You have an error in your SQL syntax near 'FORM todos'", KindDatabase, ""},
		{"sqlite syntax", `SQLSTATE[HY000]: General error: 1 near "FORM": syntax error`, KindDatabase, ""},
		{"parse before sql assignment", `syntax error, unexpected variable "$sql" in /var/www/sess_ab12/index.php on line 7`, KindSyntax, "$sql"},
		{"parse in sql-named file", `syntax error, unexpected token "}" in /var/www/sess_ab12/sqlite_helpers.php on line 3`, KindSyntax, "}"},
		{"duplicate", "Duplicate entry 'bob@example.com' for key 'email'", KindDatabase, "bob@example.com"},
		{"parse", `PHP Parse error: syntax error, unexpected token "}" in /var/www/index.php on line 14`, KindSyntax, "}"},
		{"undefined var", "Warning: Undefined variable $total in /app/cart.php on line 3", KindRuntime, "$total"},
		{"division", "DivisionByZeroError: Division by zero", KindRuntime, ""},
		{"no match", "Something odd happened", KindUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Classify(Payload{Error: tt.msg})
			assert.Equal(t, tt.kind, d.Type)
			assert.Equal(t, tt.code, d.Code)
			assert.Equal(t, tt.msg, d.Message)
		})
	}
}

func TestClassifyFrameworkMethodSuggestsClosest(t *testing.T) {
	d := Classify(Payload{Error: `Fatal error: Uncaught Error: Call to undefined method Vibe\DB::fetchAl() in /var/www/sess_1a/index.php:22`})

	assert.Equal(t, KindFramework, d.Type)
	assert.Equal(t, "index.php", d.File)
	assert.Equal(t, 22, d.Line)
	assert.Equal(t, "fetchAl", d.Code)
	assert.Contains(t, d.Suggestion, `Vibe\DB::fetchAll()`)
}

func TestClassifyFrameworkClassNotFound(t *testing.T) {
	d := Classify(Payload{Error: `Fatal error: Uncaught Error: Class "Vibe\Router" not found in /srv/sess_x1/routes.php on line 2`})

	assert.Equal(t, KindFramework, d.Type)
	assert.Equal(t, "routes.php", d.File)
	assert.Contains(t, d.Suggestion, "require_once __DIR__ . '/vibe.php';")
}

func TestClassifyStructuredPayloadWithUnknownType(t *testing.T) {
	d := Classify(Payload{
		Error:     "Something odd happened",
		ErrorType: "cosmic",
		File:      "lib/a.php",
		Line:      3,
	})

	assert.Equal(t, KindUnknown, d.Type)
	assert.Equal(t, "Something odd happened", d.Message)
	assert.Equal(t, "lib/a.php", d.File)
	assert.Contains(t, Format(d), "Something odd happened")
}

func TestClassifyTrustsStructuredPayload(t *testing.T) {
	d := Classify(Payload{
		Error:     "Table 'x' doesn't exist",
		ErrorType: "runtime",
		File:      "lib/a.php",
		Line:      9,
	})

	assert.Equal(t, Kind("runtime"), d.Type)
	assert.Equal(t, "lib/a.php", d.File)
	assert.Equal(t, 9, d.Line)
	assert.Empty(t, d.Suggestion)
}

func TestClassifyCapturesStackTrace(t *testing.T) {
	msg := "Fatal error: Uncaught Exception: boom in /var/www/sess_a/index.php:5\nStack trace:\n#0 {main}\n  thrown"
	d := Classify(Payload{Error: msg})

	assert.Equal(t, "#0 {main}\n  thrown", d.StackTrace)
	assert.Equal(t, 5, d.Line)
}

func TestClassifyEmptyMessage(t *testing.T) {
	d := Classify(Payload{})

	assert.Equal(t, KindUnknown, d.Type)
	assert.Equal(t, "index.php", d.File)
	assert.Equal(t, "", d.Message)
}

func TestClassifierCustomEntryFile(t *testing.T) {
	c := Default()
	c.EntryFile = "public/index.php"

	assert.Equal(t, "public/index.php", c.Classify(Payload{Error: "boom"}).File)
}

func TestRelativePath(t *testing.T) {
	assert.Equal(t, "lib/db.php", relativePath("/var/www/sess_ab12/lib/db.php"))
	assert.Equal(t, "index.php", relativePath("/var/www/html/index.php"))
	assert.Equal(t, "views/a.php", relativePath("./views/a.php"))
}

func TestFormat(t *testing.T) {
	out := Format(Details{Type: KindDatabase, File: "index.php", Line: 4, Message: "boom", Suggestion: "fix it"})

	assert.Contains(t, out, "**Database error** in `index.php` (line 4)")
	assert.Contains(t, out, "```\nboom\n```")
	assert.Contains(t, out, "Suggestion: fix it")

	assert.Contains(t, Format(Details{Type: "custom", File: "a.php"}), "**Custom error**")
}
