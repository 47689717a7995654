// Package orchestrator decides, per caller utterance, whether to block it,
// add retrieved context, or pass it through, and tells the dialogue engine
// when to speak.
package orchestrator

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/realtime-ai/benefits-assistant/pkg/connection"
	"github.com/realtime-ai/benefits-assistant/pkg/guardrail"
	"github.com/realtime-ai/benefits-assistant/pkg/observability"
	"github.com/realtime-ai/benefits-assistant/pkg/rag"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi/events"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi/state"
	"github.com/realtime-ai/benefits-assistant/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultSafetyMessage is injected when an utterance is flagged.
const DefaultSafetyMessage = "A última solicitação do usuário foi moderada. Responda com uma advertência gentil e ofereça ajuda segura."

const (
	defaultTopK             = 3
	defaultRetrievalTimeout = 4 * time.Second
)

// Outcome is what happened to one transcript.
type Outcome string

const (
	OutcomeEmpty       Outcome = observability.OutcomeEmpty
	OutcomeBlocked     Outcome = observability.OutcomeBlocked
	OutcomeWithContext Outcome = observability.OutcomeWithContext
	OutcomeNoContext   Outcome = observability.OutcomeNoContext
)

// SafetyChecker classifies an utterance. It must not block past ctx.
type SafetyChecker interface {
	Check(ctx context.Context, text string) guardrail.Verdict
}

// Engine is the part of the dialogue engine connection the orchestrator
// drives.
type Engine interface {
	InjectMessage(role events.Role, text string) error
	RequestResponse() error
}

// Call is the per-call state the orchestrator reads and feeds.
type Call interface {
	ID() string
	StreamSid() string
	// Enqueue queues an outbound frame, blocking while the queue is full.
	// It returns false if the call has closed.
	Enqueue(frame connection.MediaFrame) bool
	SetLastUtterance(text, itemID string)
	Close() error
}

// Config tunes one orchestrator.
type Config struct {
	TopK             int
	RetrievalTimeout time.Duration
	SafetyMessage    string
	// TrackTurns defers response.create until the previous response is done.
	TrackTurns bool
	// RetrieverName labels retrieval spans.
	RetrieverName string
}

// Orchestrator handles engine events for one call. It implements
// realtimeapi.EventSink; the engine client calls it from a single goroutine,
// so transcripts are handled one at a time in arrival order.
type Orchestrator struct {
	ctx       context.Context
	call      Call
	engine    Engine
	safety    SafetyChecker
	retriever rag.Retriever
	metrics   *observability.Metrics
	tracker   *state.ResponseTracker
	config    Config
}

var _ realtimeapi.EventSink = (*Orchestrator)(nil)

// New creates an orchestrator. ctx is the call's context; it bounds every
// moderation and retrieval call. retriever may be nil. metrics may be nil.
func New(ctx context.Context, call Call, engine Engine, safety SafetyChecker, retriever rag.Retriever,
	metrics *observability.Metrics, config Config) *Orchestrator {
	if config.TopK <= 0 {
		config.TopK = defaultTopK
	}
	if config.RetrievalTimeout <= 0 {
		config.RetrievalTimeout = defaultRetrievalTimeout
	}
	if config.SafetyMessage == "" {
		config.SafetyMessage = DefaultSafetyMessage
	}
	if retriever == nil {
		retriever = rag.Nop{}
	}

	o := &Orchestrator{
		ctx:       ctx,
		call:      call,
		engine:    engine,
		safety:    safety,
		retriever: retriever,
		metrics:   metrics,
		config:    config,
	}
	if config.TrackTurns {
		o.tracker = state.NewResponseTracker()
	}
	return o
}

// HandleTranscript runs the moderation and retrieval flow for one final
// caller transcript.
func (o *Orchestrator) HandleTranscript(text, itemID string) Outcome {
	if strings.TrimSpace(text) == "" {
		o.metrics.Transcript(string(OutcomeEmpty))
		return OutcomeEmpty
	}

	o.call.SetLastUtterance(text, itemID)
	log.Printf("[Orchestrator] call=%s transcript: %s", o.call.ID(), truncateForLog(text, 120))

	ctx, span := trace.InstrumentTurn(o.ctx, text)
	defer span.End()

	outcome := o.handle(ctx, text)
	span.SetAttributes(attribute.String(trace.AttrTurnOutcome, string(outcome)))
	log.Print(trace.LogWithTrace(ctx, "[Orchestrator] call="+o.call.ID()+" turn outcome: "+string(outcome)))
	o.metrics.Transcript(string(outcome))
	return outcome
}

func (o *Orchestrator) handle(ctx context.Context, text string) Outcome {
	verdict := o.safety.Check(ctx, text)
	switch {
	case verdict.Failed:
		o.metrics.ModerationVerdict("failed")
	case verdict.Flagged:
		o.metrics.ModerationVerdict("flagged")
	default:
		o.metrics.ModerationVerdict("allowed")
	}

	if verdict.Flagged {
		log.Printf("[Orchestrator] call=%s utterance blocked", o.call.ID())
		o.inject(o.config.SafetyMessage)
		o.requestResponse()
		return OutcomeBlocked
	}

	passages := o.retrieve(ctx, text)
	outcome := OutcomeNoContext
	if len(passages) > 0 {
		o.inject(rag.FormatContext(passages))
		outcome = OutcomeWithContext
	}
	o.requestResponse()
	return outcome
}

// retrieve never fails: errors and timeouts become zero passages.
func (o *Orchestrator) retrieve(ctx context.Context, query string) []rag.Passage {
	ctx, span := trace.InstrumentRetrieval(ctx, o.config.RetrieverName, o.config.TopK)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.config.RetrievalTimeout)
	defer cancel()

	start := time.Now()
	passages, err := o.retriever.Retrieve(ctx, query, o.config.TopK)
	if err != nil {
		trace.RecordError(span, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Printf("[Orchestrator] call=%s retrieval timed out after %v", o.call.ID(), o.config.RetrievalTimeout)
		} else {
			log.Printf("[Orchestrator] call=%s retrieval failed: %v", o.call.ID(), err)
		}
		passages = nil
	}
	if len(passages) > o.config.TopK {
		passages = passages[:o.config.TopK]
	}
	o.metrics.ObserveRetrieval(time.Since(start), len(passages))
	span.SetAttributes(attribute.Int(trace.AttrRetrievalPassages, len(passages)))
	return passages
}

func (o *Orchestrator) inject(text string) {
	if err := o.engine.InjectMessage(events.RoleSystem, text); err != nil {
		log.Printf("[Orchestrator] call=%s inject failed: %v", o.call.ID(), err)
	}
}

func (o *Orchestrator) requestResponse() {
	if o.tracker != nil && !o.tracker.Request() {
		if cur := o.tracker.Current(); cur != nil {
			log.Printf("[Orchestrator] call=%s response parked behind %s (%s)", o.call.ID(), cur.TurnID, cur.State)
		}
		return
	}
	o.sendResponseCreate()
}

func (o *Orchestrator) sendResponseCreate() {
	if err := o.engine.RequestResponse(); err != nil {
		log.Printf("[Orchestrator] call=%s response.create failed: %v", o.call.ID(), err)
		// Abort clears pending, so a parked request is retried at most once
		if o.tracker != nil && o.tracker.Abort() {
			o.sendResponseCreate()
		}
	}
}

// OnAudioDelta relays synthesized audio to the caller. Frames produced
// before the stream id is known are dropped.
func (o *Orchestrator) OnAudioDelta(ev *events.ResponseOutputAudioDeltaEvent) {
	if ev.Delta == "" {
		return
	}
	sid := o.call.StreamSid()
	if sid == "" {
		o.metrics.FrameDropped("no_stream_sid")
		log.Printf("[Orchestrator] call=%s dropping audio delta: stream not started", o.call.ID())
		return
	}
	if !o.call.Enqueue(connection.MediaFrame{StreamSid: sid, Payload: ev.Delta}) {
		o.metrics.FrameDropped("call_closed")
	}
}

// OnTranscriptCompleted handles the final transcript of a caller turn.
func (o *Orchestrator) OnTranscriptCompleted(ev *events.InputAudioTranscriptionCompletedEvent) {
	o.HandleTranscript(ev.Text(), ev.UtteranceItemID())
}

func (o *Orchestrator) OnResponseCreated(ev *events.ResponseEvent) {
	if o.tracker != nil {
		o.tracker.Created(ev.Response.ID)
	}
}

func (o *Orchestrator) OnResponseDone(ev *events.ResponseEvent) {
	if o.tracker != nil && o.tracker.Done() {
		log.Printf("[Orchestrator] call=%s sending parked response", o.call.ID())
		o.sendResponseCreate()
	}
}

// OnError releases a requested turn the engine refused before starting it.
func (o *Orchestrator) OnError(ev *events.ErrorEvent) {
	o.metrics.EngineError(ev.Error.Type)
	if o.tracker == nil || o.tracker.State() != state.ResponseStateRequested {
		return
	}
	log.Printf("[Orchestrator] call=%s engine error while a response was requested, releasing turn", o.call.ID())
	if o.tracker.Abort() {
		o.sendResponseCreate()
	}
}

// OnClose tears the call down when the engine connection ends.
func (o *Orchestrator) OnClose(err error) {
	if o.tracker != nil {
		if o.tracker.HasPending() {
			log.Printf("[Orchestrator] call=%s dropping parked response", o.call.ID())
		}
		o.tracker.Reset()
	}
	if err != nil {
		log.Printf("[Orchestrator] call=%s engine closed: %v", o.call.ID(), err)
	}
	o.call.Close()
}

func truncateForLog(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
