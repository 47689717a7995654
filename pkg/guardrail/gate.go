package guardrail

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/realtime-ai/benefits-assistant/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
)

const defaultTimeout = 3 * time.Second

// GateConfig configures a Gate.
type GateConfig struct {
	// Timeout bounds each classifier call (default 3s).
	Timeout time.Duration
	// FailClosed treats a classifier failure as flagged. The default lets
	// the utterance through.
	FailClosed bool
	// Model is only used to label spans.
	Model string
}

// Gate wraps a Moderator with a timeout and a failure policy. Check never
// returns an error.
type Gate struct {
	moderator Moderator
	config    GateConfig
}

// NewGate creates a gate around moderator.
func NewGate(moderator Moderator, config GateConfig) *Gate {
	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}
	return &Gate{moderator: moderator, config: config}
}

// Check classifies text. On failure the verdict is not flagged unless the
// gate is configured to fail closed; Verdict.Failed marks the fallback.
func (g *Gate) Check(ctx context.Context, text string) Verdict {
	ctx, span := trace.InstrumentModeration(ctx, g.config.Model)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	v, err := g.moderator.Moderate(ctx, text)
	if err != nil {
		trace.RecordError(span, err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Printf("[Guardrail] Moderation timed out after %v", g.config.Timeout)
		} else {
			log.Printf("[Guardrail] Moderation failed: %v", err)
		}
		span.SetAttributes(attribute.Bool(trace.AttrModerationFailed, !g.config.FailClosed))
		return Verdict{Flagged: g.config.FailClosed, Failed: true}
	}

	span.SetAttributes(attribute.Bool(trace.AttrModerationFlagged, v.Flagged))
	if v.Flagged {
		log.Printf("[Guardrail] Utterance flagged: %s", strings.Join(v.FlaggedCategories(), ","))
	}
	return v
}
