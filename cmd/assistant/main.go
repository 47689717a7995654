// Command assistant runs the phone benefits assistant: a Twilio Media Streams
// relay to a realtime dialogue engine with moderation and retrieval on every
// caller turn.
//
// Environment Variables:
//   - OPENAI_API_KEY: required
//   - APP_BIND_ADDR: listen address (default :5050)
//   - PUBLIC_HOST: host Twilio should stream to (default: request Host)
//   - RAG_BACKEND: memory, pgvector, http or none (default memory)
//   - TRACE_EXPORTER: none, stdout or otlp (default none)
//
// Point the Twilio number's voice webhook at POST /incoming-call.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/openai/openai-go/option"
	"github.com/realtime-ai/benefits-assistant/pkg/config"
	"github.com/realtime-ai/benefits-assistant/pkg/guardrail"
	"github.com/realtime-ai/benefits-assistant/pkg/observability"
	"github.com/realtime-ai/benefits-assistant/pkg/orchestrator"
	"github.com/realtime-ai/benefits-assistant/pkg/rag"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi"
	"github.com/realtime-ai/benefits-assistant/pkg/realtimeapi/events"
	"github.com/realtime-ai/benefits-assistant/pkg/server"
	"github.com/realtime-ai/benefits-assistant/pkg/session"
	"github.com/realtime-ai/benefits-assistant/pkg/trace"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrMissingCredential) {
			log.Fatalf("Configuration error: %v (set it in the environment or .env)", err)
		}
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	traceCfg := trace.DefaultConfig()
	traceCfg.Environment = cfg.Environment
	traceCfg.Exporter = cfg.TraceExporter
	traceCfg.OTLPEndpoint = cfg.OTLPEndpoint
	if err := trace.Initialize(ctx, traceCfg); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := trace.Shutdown(context.Background()); err != nil {
			log.Printf("Tracing shutdown: %v", err)
		}
	}()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	retriever, closeRetriever, err := newRetriever(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up retrieval: %v", err)
	}
	defer closeRetriever()

	var modOpts []option.RequestOption
	if cfg.OpenAIBaseURL != "" {
		modOpts = append(modOpts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	gate := guardrail.NewGate(
		guardrail.NewOpenAIModerator(cfg.OpenAIAPIKey, cfg.ModerationModel, modOpts...),
		guardrail.GateConfig{
			Timeout:    cfg.ModerationTimeout,
			FailClosed: cfg.ModerationFailClosed,
			Model:      cfg.ModerationModel,
		},
	)

	minter := realtimeapi.NewSessionMinter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
		cfg.RealtimeModel, cfg.RealtimeVoice, cfg.SystemPrompt)

	calls := session.NewManager()
	srv := server.New(server.Config{
		PublicHost:    cfg.PublicHost,
		Greeting:      cfg.Greeting,
		GreetingVoice: cfg.GreetingVoice,
		QueueSize:     cfg.OutboundQueueSize,
		Engine: realtimeapi.Config{
			URL:     cfg.RealtimeURL,
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.RealtimeModel,
			Session: sessionConfig(cfg),
		},
		Orchestrator: orchestrator.Config{
			TopK:             cfg.RAGTopK,
			RetrievalTimeout: cfg.RetrievalTimeout,
			TrackTurns:       cfg.TrackTurns,
			RetrieverName:    cfg.RAGBackend,
		},
	}, calls, gate, retriever, minter, metrics)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s (model %s, retrieval %s)", cfg.BindAddr, cfg.RealtimeModel, cfg.RAGBackend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Printf("Server error: %v", err)
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Hijacked media sockets are not tracked by http.Server
	if err := calls.CloseAll(shutdownCtx); err != nil {
		log.Printf("Closing calls: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	log.Println("Goodbye!")
}

// sessionConfig describes the engine session every call opens: μ-law both
// ways, server VAD that never answers on its own, and input transcription.
func sessionConfig(cfg config.Config) events.SessionConfig {
	return events.SessionConfig{
		Instructions:     cfg.SystemPrompt,
		OutputModalities: []events.Modality{events.ModalityAudio},
		Audio: &events.SessionAudioConfig{
			Input: &events.AudioInputConfig{
				Format: events.AudioFormat{Type: events.AudioFormatPCMU},
				TurnDetection: &events.TurnDetection{
					Type:              events.TurnDetectionTypeServerVAD,
					SilenceDurationMs: cfg.SilenceDurationMs,
					CreateResponse:    events.Bool(false),
				},
				Transcription: &events.TranscriptionConfig{
					Model:    cfg.TranscriptionModel,
					Language: cfg.Language,
				},
			},
			Output: &events.AudioOutputConfig{
				Format: events.AudioFormat{Type: events.AudioFormatPCMU},
				Voice:  cfg.RealtimeVoice,
			},
		},
	}
}

func newRetriever(ctx context.Context, cfg config.Config) (rag.Retriever, func(), error) {
	noop := func() {}
	embedder := rag.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel)

	switch cfg.RAGBackend {
	case config.BackendNone:
		return rag.Nop{}, noop, nil

	case config.BackendHTTP:
		return rag.NewHTTPRetriever(cfg.RetrievalURL, nil), noop, nil

	case config.BackendPGVector:
		r, err := rag.NewPGVectorRetriever(ctx, cfg.DatabaseURL, cfg.RAGTable, embedder, cfg.RAGMinScore)
		if err != nil {
			return nil, noop, fmt.Errorf("pgvector: %w", err)
		}
		return r, r.Close, nil

	default:
		docs, err := rag.LoadCorpus(cfg.RAGCorpusPath)
		if err != nil {
			return nil, noop, err
		}
		idx, err := rag.NewMemoryIndex(ctx, embedder, docs, cfg.RAGMinScore)
		if err != nil {
			// A dead embedding service should not keep the phone line down
			log.Printf("Retrieval disabled: %v", err)
			return rag.Nop{}, noop, nil
		}
		log.Printf("Loaded %d passages from %s", idx.Len(), cfg.RAGCorpusPath)
		return idx, noop, nil
	}
}
