package generate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/viant/nexus/model"
)

func TestGenerate(t *testing.T) {
	testCases := []struct {
		description string
		input       *Input
		expected    *Output
		hasError    bool
	}{
		{
			description: "echoes the prompt with the default model",
			input:       &Input{Prompt: "write a haiku"},
			expected:    &Output{Text: "write a haiku [completed by nexus-small]", Model: "nexus-small", TokenCount: 3},
		},
		{
			description: "caps output at maxTokens",
			input:       &Input{Prompt: "one two three four", MaxTokens: 2, Model: "nexus-large"},
			expected:    &Output{Text: "one two [completed by nexus-large]", Model: "nexus-large", TokenCount: 2},
		},
		{
			description: "rejects a blank prompt",
			input:       &Input{Prompt: "   "},
			hasError:    true,
		},
	}

	for _, testCase := range testCases {
		output, err := generate(context.Background(), testCase.input)
		if testCase.hasError {
			assert.Error(t, err, testCase.description)
			continue
		}
		assert.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expected, output, testCase.description)
	}
}

func TestHandlerDecodesPayload(t *testing.T) {
	handler := New()
	assert.Equal(t, Kind, handler.Kind())

	result, err := handler.Handle(context.Background(), &model.Request{
		ID:      "g1",
		Kind:    Kind,
		Payload: json.RawMessage(`{"prompt":"hello world","maxTokens":1}`),
	})
	assert.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, result.Outcome)

	var output Output
	assert.NoError(t, json.Unmarshal(result.Value, &output))
	assert.Equal(t, "hello [completed by nexus-small]", output.Text)
	assert.Equal(t, 1, output.TokenCount)
}
