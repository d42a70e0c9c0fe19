// Package generate ships the text generation handler. It stands in for a
// model call: output depends only on the input, which keeps pipeline runs
// reproducible.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/viant/nexus/service/worker"
)

// Kind is the request kind this handler serves.
const Kind = "generate"

const (
	defaultModel     = "nexus-small"
	defaultMaxTokens = 256
)

// Input shapes a generation request payload.
type Input struct {
	Prompt    string `json:"prompt" description:"text to complete" required:"true"`
	MaxTokens int    `json:"maxTokens,omitempty" description:"cap on generated tokens"`
	Model     string `json:"model,omitempty" description:"model name stamped on the output"`
}

// Output carries the generated text.
type Output struct {
	Text       string `json:"text"`
	Model      string `json:"model"`
	TokenCount int    `json:"tokenCount"`
}

// New returns the generation handler.
func New() worker.Handler {
	return worker.Typed(Kind, generate)
}

func generate(_ context.Context, input *Input) (*Output, error) {
	prompt := strings.TrimSpace(input.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	model := input.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	tokens := strings.Fields(prompt)
	if len(tokens) > maxTokens {
		tokens = tokens[:maxTokens]
	}
	return &Output{
		Text:       fmt.Sprintf("%s [completed by %s]", strings.Join(tokens, " "), model),
		Model:      model,
		TokenCount: len(tokens),
	}, nil
}
