package realtimeapi

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi/events"
)

// SessionMinter mints short-lived client secrets a browser can use to open
// its own engine session without seeing the server's API key.
type SessionMinter struct {
	client openai.Client
	model  string
	voice  string
	prompt string
}

// NewSessionMinter creates a minter. baseURL may be empty.
func NewSessionMinter(apiKey, baseURL, model, voice, prompt string) *SessionMinter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &SessionMinter{
		client: openai.NewClient(opts...),
		model:  model,
		voice:  voice,
		prompt: prompt,
	}
}

// Mint creates one ephemeral session configured like the phone sessions.
func (m *SessionMinter) Mint(ctx context.Context) (map[string]any, error) {
	body := map[string]any{
		"model":        m.model,
		"voice":        m.voice,
		"instructions": m.prompt,
		"modalities":   []events.Modality{events.ModalityAudio, events.ModalityText},
	}

	var out map[string]any
	if err := m.client.Post(ctx, "realtime/sessions", body, &out); err != nil {
		return nil, fmt.Errorf("failed to mint ephemeral session: %w", err)
	}
	return out, nil
}
