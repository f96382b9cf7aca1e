package ai

import (
	"context"
	"math"

	"github.com/InvictusSEO/vibephp/internal/agents/diagnosis"
	"github.com/InvictusSEO/vibephp/internal/agents/patch"
	"github.com/InvictusSEO/vibephp/internal/workspace"
)

const fixTemperature = 0.2

type fixPayload struct {
	Analysis  string  `json:"analysis"`
	RootCause string  `json:"rootCause"`
	Fix       fixBody `json:"fix"`
	// Confidence is a float so answers like 87.5 still decode.
	Confidence float64 `json:"confidence"`
}

type fixBody struct {
	File    string        `json:"file"`
	Patches []patch.Patch `json:"patches"`
}

// Fixer asks the model for line patches that resolve a classified error.
type Fixer struct {
	client *Client
}

// NewFixer creates a Fixer.
func NewFixer(client *Client) *Fixer {
	return &Fixer{client: client}
}

// Fix requests a minimal patch set for file given details.
func (f *Fixer) Fix(ctx context.Context, details diagnosis.Details, file workspace.File) (patch.Fix, error) {
	raw, err := f.client.complete(ctx, "fix", &chatRequest{
		Messages: []chatMessage{
			{Role: "system", Content: fixSystemPrompt},
			{Role: "user", Content: fixUserPrompt(details, file)},
		},
		Temperature:    fixTemperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return patch.Fix{}, err
	}
	return parseFix(raw, file.Path)
}

func parseFix(raw, implicated string) (patch.Fix, error) {
	parsed := decodeJSON[fixPayload](raw)
	if !parsed.OK {
		return patch.Fix{}, parsed.Err()
	}
	p := parsed.Value

	var patches []patch.Patch
	for _, pt := range p.Fix.Patches {
		if pt.LineNumber <= 0 {
			continue
		}
		patches = append(patches, pt)
	}
	if len(patches) == 0 {
		return patch.Fix{}, &ParseError{Reason: "response contained no usable patches", Preview: truncate(raw, previewLength)}
	}

	file := workspace.NormalizePath(p.Fix.File)
	if file == "" {
		file = implicated
	}
	return patch.Fix{
		File:       file,
		Patches:    patches,
		Analysis:   p.Analysis,
		RootCause:  p.RootCause,
		Confidence: clampConfidence(p.Confidence),
	}, nil
}

func clampConfidence(v float64) int {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}
