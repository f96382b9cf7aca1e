package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator() *Generator {
	return NewGenerator(nil, []string{"db_config.php", "vibe.php"}, 4)
}

func TestParseBuildFencedWithTrailingComma(t *testing.T) {
	raw := "```json\n{\n  \"explanation\": \"Todo app\",\n  \"files\": [\n    {\"path\": \"index.php\", \"content\": \"<?php echo 1;\"},\n  ],\n}\n```"

	resp, err := testGenerator().parseBuild(raw)

	require.NoError(t, err)
	assert.Equal(t, "Todo app", resp.Explanation)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "index.php", resp.Files[0].Path)
	assert.Equal(t, "<?php echo 1;", resp.Files[0].Content)
	assert.Equal(t, "php", resp.Files[0].Language)
	assert.False(t, resp.Recovered)
}

func TestParseBuildWithSurroundingProse(t *testing.T) {
	raw := `Sure! Here is your app: {"explanation":"x","files":[{"path":"./a.css","content":"body{}"}]} Enjoy.`

	resp, err := testGenerator().parseBuild(raw)

	require.NoError(t, err)
	assert.Equal(t, "a.css", resp.Files[0].Path)
}

func TestParseBuildDropsReservedAndEmptyPaths(t *testing.T) {
	raw := `{"explanation":"x","files":[
		{"path":"db_config.php","content":"secret"},
		{"path":"","content":"orphan"},
		{"path":"vibe.php","content":"framework"},
		{"path":"index.php","content":"ok"}
	]}`

	resp, err := testGenerator().parseBuild(raw)

	require.NoError(t, err)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "index.php", resp.Files[0].Path)
}

func TestParseBuildRecoversFields(t *testing.T) {
	// raw newline inside a string literal breaks strict JSON
	raw := "{\"explanation\": \"Guestbook\", \"files\": [{\"path\": \"index.php\", \"content\": \"<?php\n echo \\\"hi\\\";\"}]"

	resp, err := testGenerator().parseBuild(raw)

	require.NoError(t, err)
	assert.True(t, resp.Recovered)
	assert.Equal(t, "Guestbook", resp.Explanation)
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "<?php\n echo \"hi\";", resp.Files[0].Content)
}

func TestParseBuildFailureCarriesPreview(t *testing.T) {
	raw := "I could not do that. " + strings.Repeat("x", 400)

	_, err := testGenerator().parseBuild(raw)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.True(t, strings.HasPrefix(perr.Preview, "I could not do that."))
	assert.Equal(t, previewLength+len("..."), len([]rune(perr.Preview)))
	assert.Contains(t, err.Error(), "Response preview")
}

func TestParseBuildNoFiles(t *testing.T) {
	_, err := testGenerator().parseBuild(`{"explanation":"nothing","files":[]}`)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, perr.Reason, "no files")
}

func TestDecodeJSONTagged(t *testing.T) {
	ok := decodeJSON[map[string]int](`{"a": 1,}`)
	assert.True(t, ok.OK)
	assert.NoError(t, ok.Err())
	assert.Equal(t, 1, ok.Value["a"])

	empty := decodeJSON[map[string]int]("  ")
	assert.False(t, empty.OK)
	assert.Equal(t, "empty response", empty.Reason)

	bad := decodeJSON[map[string]int]("not json")
	assert.False(t, bad.OK)
	assert.Equal(t, "not json", bad.Raw)
	assert.Error(t, bad.Err())
}

func TestParseFix(t *testing.T) {
	raw := "```json\n" + `{
		"analysis": "table missing",
		"rootCause": "no CREATE TABLE",
		"fix": {"file": "", "patches": [
			{"lineNumber": 3, "oldCode": "$pdo = db();", "newCode": "$pdo = db(); $pdo->exec('CREATE TABLE IF NOT EXISTS todos (id INTEGER)');", "explanation": "create table"},
			{"lineNumber": 0, "oldCode": "", "newCode": "junk", "explanation": ""}
		]},
		"confidence": 140
	}` + "\n```"

	fix, err := parseFix(raw, "index.php")

	require.NoError(t, err)
	assert.Equal(t, "index.php", fix.File)
	assert.Equal(t, 100, fix.Confidence)
	require.Len(t, fix.Patches, 1)
	assert.Equal(t, 3, fix.Patches[0].LineNumber)
	assert.Equal(t, "no CREATE TABLE", fix.RootCause)
}

func TestParseFixWithoutPatches(t *testing.T) {
	_, err := parseFix(`{"analysis":"?","fix":{"file":"a.php","patches":[]},"confidence":50}`, "a.php")

	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, clampConfidence(-5))
	assert.Equal(t, 88, clampConfidence(87.5))
	assert.Equal(t, 100, clampConfidence(101))
}

func TestRecentTurns(t *testing.T) {
	history := []Turn{
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
		{Role: "system", Content: "status"},
		{Role: "user", Content: "3"},
		{Role: "assistant", Content: "4"},
		{Role: "assistant", Content: "loading", Loading: true},
		{Role: "user", Content: "5"},
	}

	got := recentTurns(history, 4)

	require.Len(t, got, 4)
	assert.Equal(t, "2", got[0].Content)
	assert.Equal(t, "5", got[3].Content)
}

func TestNumbered(t *testing.T) {
	out := numbered(strings.Repeat("x\n", 9) + "y")

	assert.True(t, strings.HasPrefix(out, " 1| x\n"))
	assert.Contains(t, out, "10| y\n")
}
