package trace

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys used on call spans
const (
	AttrCallID    = "call.id"
	AttrCallSid   = "call.sid"
	AttrStreamSid = "call.stream_sid"

	AttrEngineModel = "engine.model"

	AttrModerationModel   = "moderation.model"
	AttrModerationFlagged = "moderation.flagged"
	AttrModerationFailed  = "moderation.failed_open"

	AttrRetrievalBackend  = "retrieval.backend"
	AttrRetrievalTopK     = "retrieval.top_k"
	AttrRetrievalPassages = "retrieval.passages"

	AttrTranscriptLength = "transcript.length"
	AttrTurnOutcome      = "turn.outcome"
)

// CallAttrs creates attributes identifying a phone call.
func CallAttrs(callID, callSid, streamSid string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCallID, callID),
		attribute.String(AttrCallSid, callSid),
		attribute.String(AttrStreamSid, streamSid),
	}
}
