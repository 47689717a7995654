package events

import (
	"github.com/google/uuid"
)

// ClientEventType represents the type of client event.
type ClientEventType string

const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeInputAudioBufferClear  ClientEventType = "input_audio_buffer.clear"
	ClientEventTypeConversationItemCreate ClientEventType = "conversation.item.create"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
	ClientEventTypeResponseCancel         ClientEventType = "response.cancel"
)

// ClientEvent is the interface for all client events.
type ClientEvent interface {
	ClientEventType() ClientEventType
	GetEventID() string
}

// BaseClientEvent contains common fields for all client events.
type BaseClientEvent struct {
	EventID string          `json:"event_id,omitempty"`
	Type    ClientEventType `json:"type"`
}

func (e BaseClientEvent) ClientEventType() ClientEventType {
	return e.Type
}

func (e BaseClientEvent) GetEventID() string {
	return e.EventID
}

// NewBaseClientEvent creates a base client event with a generated event ID.
func NewBaseClientEvent(eventType ClientEventType) BaseClientEvent {
	return BaseClientEvent{
		EventID: "evt_" + uuid.New().String()[:8],
		Type:    eventType,
	}
}

// SessionUpdateEvent updates the session configuration.
type SessionUpdateEvent struct {
	BaseClientEvent
	Session SessionConfig `json:"session"`
}

func NewSessionUpdateEvent(session SessionConfig) *SessionUpdateEvent {
	if session.Type == "" {
		session.Type = "realtime"
	}
	return &SessionUpdateEvent{
		BaseClientEvent: NewBaseClientEvent(ClientEventTypeSessionUpdate),
		Session:         session,
	}
}

// InputAudioBufferAppendEvent appends audio to the input buffer.
// Audio stays base64 end to end; no event_id keeps the hot path small.
type InputAudioBufferAppendEvent struct {
	BaseClientEvent
	Audio string `json:"audio"`
}

func NewInputAudioBufferAppendEvent(audio string) *InputAudioBufferAppendEvent {
	return &InputAudioBufferAppendEvent{
		BaseClientEvent: BaseClientEvent{Type: ClientEventTypeInputAudioBufferAppend},
		Audio:           audio,
	}
}

// ConversationItemCreateEvent adds an item to the conversation.
type ConversationItemCreateEvent struct {
	BaseClientEvent
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

// NewMessageItemEvent builds a single text message item for role.
func NewMessageItemEvent(role Role, text string) *ConversationItemCreateEvent {
	return &ConversationItemCreateEvent{
		BaseClientEvent: NewBaseClientEvent(ClientEventTypeConversationItemCreate),
		Item: Item{
			Type: ItemTypeMessage,
			Role: role,
			Content: []ContentPart{{
				Type: ContentTypeInputText,
				Text: text,
			}},
		},
	}
}

// ResponseCreateEvent asks the engine to generate a response turn.
type ResponseCreateEvent struct {
	BaseClientEvent
}

func NewResponseCreateEvent() *ResponseCreateEvent {
	return &ResponseCreateEvent{
		BaseClientEvent: NewBaseClientEvent(ClientEventTypeResponseCreate),
	}
}

// ResponseCancelEvent cancels the in-progress response.
type ResponseCancelEvent struct {
	BaseClientEvent
}

func NewResponseCancelEvent() *ResponseCancelEvent {
	return &ResponseCancelEvent{
		BaseClientEvent: NewBaseClientEvent(ClientEventTypeResponseCancel),
	}
}
