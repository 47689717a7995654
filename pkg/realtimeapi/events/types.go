// Package events defines the wire types of the realtime dialogue engine
// protocol spoken by the telephony relay.
package events

// Modality represents the output modalities of a session.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
)

// AudioFormatType names an audio encoding in session configuration.
type AudioFormatType string

const (
	// AudioFormatPCMU is G.711 μ-law at 8kHz, the Twilio Media Streams format.
	AudioFormatPCMU AudioFormatType = "audio/pcmu"
	AudioFormatPCMA AudioFormatType = "audio/pcma"
	AudioFormatPCM  AudioFormatType = "audio/pcm"
)

// ItemType represents the type of conversation item.
type ItemType string

const (
	ItemTypeMessage ItemType = "message"
)

// Role represents the role of a conversation participant.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ContentType represents the type of content in a conversation item.
type ContentType string

const (
	ContentTypeInputText  ContentType = "input_text"
	ContentTypeInputAudio ContentType = "input_audio"
	ContentTypeText       ContentType = "output_text"
	ContentTypeAudio      ContentType = "output_audio"
)

// ResponseStatus represents the status of a response.
type ResponseStatus string

const (
	ResponseStatusInProgress ResponseStatus = "in_progress"
	ResponseStatusCompleted  ResponseStatus = "completed"
	ResponseStatusCancelled  ResponseStatus = "cancelled"
	ResponseStatusFailed     ResponseStatus = "failed"
	ResponseStatusIncomplete ResponseStatus = "incomplete"
)

// TurnDetectionType represents the type of turn detection.
type TurnDetectionType string

const (
	TurnDetectionTypeServerVAD   TurnDetectionType = "server_vad"
	TurnDetectionTypeSemanticVAD TurnDetectionType = "semantic_vad"
)

// SessionConfig is the body of session.update.
type SessionConfig struct {
	Type             string              `json:"type"` // always "realtime"
	Model            string              `json:"model,omitempty"`
	Instructions     string              `json:"instructions,omitempty"`
	OutputModalities []Modality          `json:"output_modalities,omitempty"`
	Audio            *SessionAudioConfig `json:"audio,omitempty"`
}

// SessionAudioConfig groups input and output audio settings.
type SessionAudioConfig struct {
	Input  *AudioInputConfig  `json:"input,omitempty"`
	Output *AudioOutputConfig `json:"output,omitempty"`
}

// AudioFormat selects an encoding. Rate is only meaningful for audio/pcm.
type AudioFormat struct {
	Type AudioFormatType `json:"type"`
	Rate int             `json:"rate,omitempty"`
}

// AudioInputConfig configures the caller side of the session.
type AudioInputConfig struct {
	Format        AudioFormat          `json:"format"`
	TurnDetection *TurnDetection       `json:"turn_detection,omitempty"`
	Transcription *TranscriptionConfig `json:"transcription,omitempty"`
}

// AudioOutputConfig configures synthesized speech.
type AudioOutputConfig struct {
	Format AudioFormat `json:"format"`
	Voice  string      `json:"voice,omitempty"`
}

// TurnDetection configures server-side voice activity detection.
//
// CreateResponse is a pointer so that false is sent explicitly; the engine
// defaults it to true when omitted.
type TurnDetection struct {
	Type              TurnDetectionType `json:"type"`
	Threshold         float64           `json:"threshold,omitempty"`
	PrefixPaddingMs   int               `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int               `json:"silence_duration_ms,omitempty"`
	CreateResponse    *bool             `json:"create_response,omitempty"`
	InterruptResponse *bool             `json:"interrupt_response,omitempty"`
}

// TranscriptionConfig enables input transcription events.
type TranscriptionConfig struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// ContentPart is one piece of a conversation item's content.
type ContentPart struct {
	Type       ContentType `json:"type"`
	Text       string      `json:"text,omitempty"`
	Audio      string      `json:"audio,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
}

// Item is a conversation item as sent or received.
type Item struct {
	ID      string        `json:"id,omitempty"`
	Type    ItemType      `json:"type"`
	Role    Role          `json:"role,omitempty"`
	Status  string        `json:"status,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

// Response is the response object carried by response.* server events.
type Response struct {
	ID     string         `json:"id"`
	Status ResponseStatus `json:"status"`
}

// ErrorDetail is the payload of an error event.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

// Bool returns a pointer to b, for optional boolean fields.
func Bool(b bool) *bool {
	return &b
}
