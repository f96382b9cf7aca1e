package ai

import (
	"encoding/json"
	"regexp"
	"strings"
)

// previewLength is how much raw model output a ParseError carries.
const previewLength = 200

// Parsed is the outcome of decoding structured model output. When OK is false,
// Reason says why and Raw holds the original text for recovery or diagnosis.
type Parsed[T any] struct {
	Value  T
	OK     bool
	Raw    string
	Reason string
}

// Err returns nil for a successful parse and a *ParseError otherwise.
func (p Parsed[T]) Err() error {
	if p.OK {
		return nil
	}
	return &ParseError{Reason: p.Reason, Preview: truncate(p.Raw, previewLength)}
}

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// cleanJSONResponse extracts the JSON object from noisy model output: code fences are
// stripped, the text is cut to the outermost braces and trailing commas are removed.
func cleanJSONResponse(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if nl := strings.Index(s, "\n"); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return trailingCommaRe.ReplaceAllString(s, "$1")
}

// decodeJSON runs the cleaning pipeline and unmarshals into T.
func decodeJSON[T any](raw string) Parsed[T] {
	out := Parsed[T]{Raw: raw}
	if strings.TrimSpace(raw) == "" {
		out.Reason = "empty response"
		return out
	}
	cleaned := cleanJSONResponse(raw)
	if !strings.HasPrefix(cleaned, "{") {
		out.Reason = "no JSON object found"
		return out
	}
	if err := json.Unmarshal([]byte(cleaned), &out.Value); err != nil {
		out.Reason = "invalid JSON: " + err.Error()
		return out
	}
	out.OK = true
	return out
}

// buildPayload is the wire shape of a build response.
type buildPayload struct {
	Explanation string `json:"explanation"`
	Files       []struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	} `json:"files"`
}

var (
	explanationRe = regexp.MustCompile(`"explanation"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	fileEntryRe   = regexp.MustCompile(`(?s)"path"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"content"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// recoverBuild pulls explanation and file entries out of text that failed to decode
// as a whole, for example when one file's content carries raw newlines.
func recoverBuild(raw string) (buildPayload, bool) {
	var out buildPayload
	if m := explanationRe.FindStringSubmatch(raw); m != nil {
		out.Explanation = unescapeJSONString(m[1])
	}
	for _, m := range fileEntryRe.FindAllStringSubmatch(raw, -1) {
		out.Files = append(out.Files, struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}{Path: unescapeJSONString(m[1]), Content: unescapeJSONString(m[2])})
	}
	return out, len(out.Files) > 0
}

// unescapeJSONString decodes the body of a JSON string literal. Literal control
// characters, which strict JSON rejects, are escaped first.
func unescapeJSONString(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err == nil {
		return out
	}
	r := strings.NewReplacer("\r\n", `\n`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	if err := json.Unmarshal([]byte(`"`+r.Replace(s)+`"`), &out); err == nil {
		return out
	}
	return s
}
