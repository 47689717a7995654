// Package guardrail classifies caller utterances with an external moderation
// service before they reach the dialogue engine.
package guardrail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the moderation model used when none is configured.
const DefaultModel = "omni-moderation-latest"

// ErrModerationService is returned when the classifier is unreachable or
// answers with something unusable.
var ErrModerationService = errors.New("moderation service error")

// Verdict is the outcome of one safety check.
type Verdict struct {
	Flagged    bool
	Categories map[string]bool
	Scores     map[string]float64
	// Failed is set when the verdict is a fallback after a service error.
	Failed bool
}

// FlaggedCategories returns the names of the categories that tripped.
func (v Verdict) FlaggedCategories() []string {
	var out []string
	for name, hit := range v.Categories {
		if hit {
			out = append(out, name)
		}
	}
	return out
}

// Moderator calls a moderation classifier.
type Moderator interface {
	Moderate(ctx context.Context, text string) (Verdict, error)
}

// OpenAIModerator uses the OpenAI moderation endpoint.
type OpenAIModerator struct {
	client openai.Client
	model  string
}

// NewOpenAIModerator creates a moderator. Extra request options (base URL,
// retries) are passed through to the client.
func NewOpenAIModerator(apiKey, model string, opts ...option.RequestOption) *OpenAIModerator {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIModerator{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

// Model returns the configured moderation model.
func (m *OpenAIModerator) Model() string {
	return m.model
}

// Moderate classifies text. Any transport or decoding failure wraps
// ErrModerationService.
func (m *OpenAIModerator) Moderate(ctx context.Context, text string) (Verdict, error) {
	resp, err := m.client.Moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.ModerationModel(m.model),
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrModerationService, err)
	}
	if len(resp.Results) == 0 {
		return Verdict{}, fmt.Errorf("%w: empty results", ErrModerationService)
	}

	result := resp.Results[0]
	v := Verdict{Flagged: result.Flagged}
	if raw := result.Categories.RawJSON(); raw != "" {
		if err := json.Unmarshal([]byte(raw), &v.Categories); err != nil {
			return Verdict{}, fmt.Errorf("%w: categories: %v", ErrModerationService, err)
		}
	}
	if raw := result.CategoryScores.RawJSON(); raw != "" {
		// Scores are informational
		_ = json.Unmarshal([]byte(raw), &v.Scores)
	}
	return v, nil
}
