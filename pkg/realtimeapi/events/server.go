package events

import (
	"encoding/json"
	"fmt"
)

// ServerEventType represents the type of server event.
type ServerEventType string

const (
	ServerEventTypeError                                            ServerEventType = "error"
	ServerEventTypeSessionCreated                                   ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                                   ServerEventType = "session.updated"
	ServerEventTypeInputAudioBufferSpeechStarted                    ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped                    ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeConversationItemInputAudioTranscriptionCompleted ServerEventType = "conversation.item.input_audio_transcription.completed"
	ServerEventTypeConversationItemInputAudioTranscriptionFailed    ServerEventType = "conversation.item.input_audio_transcription.failed"
	ServerEventTypeResponseCreated                                  ServerEventType = "response.created"
	ServerEventTypeResponseDone                                     ServerEventType = "response.done"
	ServerEventTypeResponseOutputAudioDelta                         ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseOutputAudioDone                          ServerEventType = "response.output_audio.done"
	ServerEventTypeResponseOutputAudioTranscriptDone                ServerEventType = "response.output_audio_transcript.done"
)

// ServerEvent is the interface for all server events.
type ServerEvent interface {
	ServerEventType() ServerEventType
	GetEventID() string
}

// BaseServerEvent contains common fields for all server events.
type BaseServerEvent struct {
	EventID string          `json:"event_id"`
	Type    ServerEventType `json:"type"`
}

func (e BaseServerEvent) ServerEventType() ServerEventType {
	return e.Type
}

func (e BaseServerEvent) GetEventID() string {
	return e.EventID
}

// ErrorEvent reports a problem with a client event or the session.
type ErrorEvent struct {
	BaseServerEvent
	Error ErrorDetail `json:"error"`
}

// SessionEvent carries session.created and session.updated.
type SessionEvent struct {
	BaseServerEvent
	Session json.RawMessage `json:"session"`
}

// SpeechEvent carries the input_audio_buffer.speech_* VAD boundaries.
type SpeechEvent struct {
	BaseServerEvent
	AudioStartMs int    `json:"audio_start_ms,omitempty"`
	AudioEndMs   int    `json:"audio_end_ms,omitempty"`
	ItemID       string `json:"item_id"`
}

// InputAudioTranscriptionCompletedEvent carries the final transcript of what
// the caller said.
type InputAudioTranscriptionCompletedEvent struct {
	BaseServerEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
	Item         *Item  `json:"item,omitempty"`
}

// Text returns the transcript, falling back to the first content part of the
// embedded item when the top-level field is empty.
func (e *InputAudioTranscriptionCompletedEvent) Text() string {
	if e.Transcript != "" {
		return e.Transcript
	}
	if e.Item != nil && len(e.Item.Content) > 0 {
		return e.Item.Content[0].Transcript
	}
	return ""
}

// UtteranceItemID returns the id of the conversation item the transcript
// belongs to.
func (e *InputAudioTranscriptionCompletedEvent) UtteranceItemID() string {
	if e.Item != nil && e.Item.ID != "" {
		return e.Item.ID
	}
	return e.ItemID
}

// InputAudioTranscriptionFailedEvent reports a failed transcription.
type InputAudioTranscriptionFailedEvent struct {
	BaseServerEvent
	ItemID string      `json:"item_id"`
	Error  ErrorDetail `json:"error"`
}

// ResponseEvent carries response.created and response.done.
type ResponseEvent struct {
	BaseServerEvent
	Response Response `json:"response"`
}

// ResponseOutputAudioDeltaEvent is one chunk of synthesized speech.
type ResponseOutputAudioDeltaEvent struct {
	BaseServerEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	// Delta is base64 audio in the session's output format.
	Delta string `json:"delta"`
}

// ResponseOutputAudioDoneEvent marks the end of an audio content part.
type ResponseOutputAudioDoneEvent struct {
	BaseServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
}

// ResponseOutputAudioTranscriptDoneEvent is the text of what the assistant said.
type ResponseOutputAudioTranscriptDoneEvent struct {
	BaseServerEvent
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// UnknownEvent is any event type this package does not model.
type UnknownEvent struct {
	BaseServerEvent
	Raw json.RawMessage `json:"-"`
}

// ParseServerEvent decodes one engine message. Unmodelled types come back as
// *UnknownEvent rather than an error so the protocol can grow without breaking
// the read loop.
func ParseServerEvent(data []byte) (ServerEvent, error) {
	var base BaseServerEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("failed to parse event type: %w", err)
	}
	if base.Type == "" {
		return nil, fmt.Errorf("event without type")
	}

	var event ServerEvent
	switch base.Type {
	case ServerEventTypeError:
		event = &ErrorEvent{}
	case ServerEventTypeSessionCreated, ServerEventTypeSessionUpdated:
		event = &SessionEvent{}
	case ServerEventTypeInputAudioBufferSpeechStarted, ServerEventTypeInputAudioBufferSpeechStopped:
		event = &SpeechEvent{}
	case ServerEventTypeConversationItemInputAudioTranscriptionCompleted:
		event = &InputAudioTranscriptionCompletedEvent{}
	case ServerEventTypeConversationItemInputAudioTranscriptionFailed:
		event = &InputAudioTranscriptionFailedEvent{}
	case ServerEventTypeResponseCreated, ServerEventTypeResponseDone:
		event = &ResponseEvent{}
	case ServerEventTypeResponseOutputAudioDelta:
		event = &ResponseOutputAudioDeltaEvent{}
	case ServerEventTypeResponseOutputAudioDone:
		event = &ResponseOutputAudioDoneEvent{}
	case ServerEventTypeResponseOutputAudioTranscriptDone:
		event = &ResponseOutputAudioTranscriptDoneEvent{}
	default:
		return &UnknownEvent{BaseServerEvent: base, Raw: json.RawMessage(data)}, nil
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", base.Type, err)
	}
	return event, nil
}
