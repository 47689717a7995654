package trace

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentCall creates the root span of one phone call.
func InstrumentCall(ctx context.Context, callID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "call",
		trace.WithAttributes(attribute.String(AttrCallID, callID)),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// InstrumentEngineConnect creates a span for dialing the dialogue engine.
func InstrumentEngineConnect(ctx context.Context, model string) (context.Context, trace.Span) {
	return StartSpan(ctx, "engine.connect",
		trace.WithAttributes(attribute.String(AttrEngineModel, model)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// InstrumentTurn creates a span covering the handling of one caller utterance.
func InstrumentTurn(ctx context.Context, transcript string) (context.Context, trace.Span) {
	return StartSpan(ctx, "turn",
		trace.WithAttributes(attribute.Int(AttrTranscriptLength, len(transcript))),
	)
}

// InstrumentModeration creates a span for a safety check.
func InstrumentModeration(ctx context.Context, model string) (context.Context, trace.Span) {
	return StartSpan(ctx, "moderation.check",
		trace.WithAttributes(attribute.String(AttrModerationModel, model)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// InstrumentRetrieval creates a span for a knowledge lookup.
func InstrumentRetrieval(ctx context.Context, backend string, k int) (context.Context, trace.Span) {
	return StartSpan(ctx, "retrieval.search",
		trace.WithAttributes(
			attribute.String(AttrRetrievalBackend, backend),
			attribute.Int(AttrRetrievalTopK, k),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
