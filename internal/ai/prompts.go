package ai

import (
	"fmt"
	"strings"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

const planSystemPrompt = `You are a PHP Prototyping Architect. Create a detailed implementation plan in markdown.
Use a FLAT file structure with everything in the root directory. Do not use /public or /app folders.
Keep it simple and monolithic for the sandbox environment. Persist data with SQLite through PDO.`

const buildSystemPrompt = `You are VibePHP, an expert Full Stack PHP Developer AI.
Your goal is to generate complete, working and modern PHP applications based on the plan you are given.

CRITICAL JSON OUTPUT RULES:
- Respond with ONLY a JSON object
- Do not wrap the JSON in markdown code blocks
- Do not include text before or after the JSON

RULES:
1. Generate PHP 8.2+, HTML5, CSS3 and vanilla JavaScript.
2. Structure the application logically, for example index.php, css/style.css, js/app.js.
3. You CANNOT use MySQL. Use SQLite through PDO: new PDO('sqlite:database.sqlite').
   Create every table if it does not exist at the start of the script:
   $pdo->exec("CREATE TABLE IF NOT EXISTS users (...)");
4. %s are provided by the sandbox. Never generate them. Include the helper framework with
   require_once __DIR__ . '/vibe.php'; before using any Vibe\ class.
5. Return COMPLETE contents for every new or modified file.

RESPONSE FORMAT:
{
  "explanation": "Brief description of what you built",
  "files": [
    { "path": "index.php", "content": "complete file content" }
  ]
}`

const fixSystemPrompt = `You are a PHP Debugger working in a flat sandbox. 'db_config.php' and 'vibe.php' always exist
in the root directory. Propose the smallest set of single-line replacements that fixes the error.

Respond with ONLY a JSON object:
{
  "analysis": "what went wrong",
  "rootCause": "one sentence",
  "fix": {
    "file": "index.php",
    "patches": [
      { "lineNumber": 12, "oldCode": "exact current line", "newCode": "replacement line", "explanation": "why" }
    ]
  },
  "confidence": 85
}
lineNumber is 1-based and refers to the numbered listing you are given. oldCode must equal the current line.`

func buildPrompt(reserved []string) string {
	return fmt.Sprintf(buildSystemPrompt, strings.Join(quoteAll(reserved), " and "))
}

func quoteAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = "'" + v + "'"
	}
	return out
}

// fileContext serializes the current file set for the build request.
func fileContext(files []workspace.File) string {
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "File: %s\n%s\n---\n", f.Path, f.Content)
	}
	return sb.String()
}

func buildUserPrompt(plan string, files []workspace.File) string {
	return fmt.Sprintf("Based on this plan, generate the full PHP code:\n\n%s\n\nExisting Files:\n%s", plan, fileContext(files))
}

// numbered prefixes each line with its 1-based number so the model can address lines.
func numbered(content string) string {
	lines := strings.Split(content, "\n")
	width := len(fmt.Sprint(len(lines)))
	var sb strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&sb, "%*d| %s\n", width, i+1, line)
	}
	return sb.String()
}

func fixUserPrompt(d diagnosis.Details, file workspace.File) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The PHP application failed verification.\n\nError type: %s\nFile: %s\n", d.Type, d.File)
	if d.Line > 0 {
		fmt.Fprintf(&sb, "Line: %d\n", d.Line)
	}
	fmt.Fprintf(&sb, "Message: %s\n", d.Message)
	if d.Code != "" {
		fmt.Fprintf(&sb, "Offending code: %s\n", d.Code)
	}
	if d.Suggestion != "" {
		fmt.Fprintf(&sb, "Hint: %s\n", d.Suggestion)
	}
	if d.StackTrace != "" {
		fmt.Fprintf(&sb, "Stack trace:\n%s\n", d.StackTrace)
	}
	fmt.Fprintf(&sb, "\nCurrent content of %s:\n%s", file.Path, numbered(file.Content))
	return sb.String()
}
