package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerEventTranscription(t *testing.T) {
	raw := `{"type":"conversation.item.input_audio_transcription.completed","event_id":"e1","item_id":"item_1","content_index":0,"transcript":"Tenho 65 anos"}`

	ev, err := ParseServerEvent([]byte(raw))
	require.NoError(t, err)

	tr, ok := ev.(*InputAudioTranscriptionCompletedEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "Tenho 65 anos", tr.Text())
	assert.Equal(t, "item_1", tr.UtteranceItemID())
	assert.Equal(t, "e1", tr.GetEventID())
}

func TestTranscriptFallsBackToItemContent(t *testing.T) {
	raw := `{"type":"conversation.item.input_audio_transcription.completed","item":{"id":"item_9","type":"message","content":[{"type":"input_audio","transcript":"  olá  "}]}}`

	ev, err := ParseServerEvent([]byte(raw))
	require.NoError(t, err)

	tr := ev.(*InputAudioTranscriptionCompletedEvent)
	assert.Equal(t, "  olá  ", tr.Text())
	assert.Equal(t, "item_9", tr.UtteranceItemID())
}

func TestParseServerEventAudioDelta(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"response.output_audio.delta","response_id":"r1","item_id":"i1","delta":"AAEC"}`))
	require.NoError(t, err)

	delta, ok := ev.(*ResponseOutputAudioDeltaEvent)
	require.True(t, ok)
	assert.Equal(t, "AAEC", delta.Delta)
	assert.Equal(t, "r1", delta.ResponseID)
}

func TestParseServerEventResponseDone(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"response.done","response":{"id":"r1","status":"completed"}}`))
	require.NoError(t, err)

	done := ev.(*ResponseEvent)
	assert.Equal(t, ServerEventTypeResponseDone, done.ServerEventType())
	assert.Equal(t, ResponseStatusCompleted, done.Response.Status)
}

func TestParseServerEventUnknownIsNotAnError(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	require.NoError(t, err)

	unknown, ok := ev.(*UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, ServerEventType("rate_limits.updated"), unknown.ServerEventType())
}

func TestParseServerEventMalformed(t *testing.T) {
	_, err := ParseServerEvent([]byte(`nope`))
	assert.Error(t, err)

	_, err = ParseServerEvent([]byte(`{"event_id":"x"}`))
	assert.Error(t, err)
}

func TestSessionUpdateWireShape(t *testing.T) {
	ev := NewSessionUpdateEvent(SessionConfig{
		Model:            "gpt-4o-mini-realtime-preview",
		Instructions:     "Responda em Português.",
		OutputModalities: []Modality{ModalityAudio},
		Audio: &SessionAudioConfig{
			Input: &AudioInputConfig{
				Format: AudioFormat{Type: AudioFormatPCMU},
				TurnDetection: &TurnDetection{
					Type:              TurnDetectionTypeServerVAD,
					SilenceDurationMs: 700,
					CreateResponse:    Bool(false),
				},
				Transcription: &TranscriptionConfig{Model: "whisper-1", Language: "pt"},
			},
			Output: &AudioOutputConfig{
				Format: AudioFormat{Type: AudioFormatPCMU},
				Voice:  "alloy",
			},
		},
	})

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "session.update", decoded["type"])

	session := decoded["session"].(map[string]any)
	assert.Equal(t, "realtime", session["type"])

	input := session["audio"].(map[string]any)["input"].(map[string]any)
	td := input["turn_detection"].(map[string]any)
	assert.Equal(t, false, td["create_response"], "auto responses must be explicitly disabled")
	assert.Equal(t, float64(700), td["silence_duration_ms"])
	assert.Equal(t, "audio/pcmu", input["format"].(map[string]any)["type"])
}

func TestMessageItemWireShape(t *testing.T) {
	data, err := json.Marshal(NewMessageItemEvent(RoleSystem, "contexto"))
	require.NoError(t, err)

	var decoded struct {
		Type string `json:"type"`
		Item Item   `json:"item"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "conversation.item.create", decoded.Type)
	assert.Equal(t, ItemTypeMessage, decoded.Item.Type)
	assert.Equal(t, RoleSystem, decoded.Item.Role)
	require.Len(t, decoded.Item.Content, 1)
	assert.Equal(t, ContentTypeInputText, decoded.Item.Content[0].Type)
	assert.Equal(t, "contexto", decoded.Item.Content[0].Text)
}
