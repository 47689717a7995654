// Package config loads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingCredential is returned when OPENAI_API_KEY is not set.
var ErrMissingCredential = errors.New("missing required credential")

// Retrieval backends selectable with RAG_BACKEND.
const (
	BackendMemory   = "memory"
	BackendPGVector = "pgvector"
	BackendHTTP     = "http"
	BackendNone     = "none"
)

const defaultSystemPrompt = "Você é um assistente telefônico que ajuda pessoas a entender quais benefícios " +
	"sociais do governo de São Paulo elas podem ter acesso. Quando o usuário falar sua idade, situação " +
	"financeira ou se está desempregado, use o contexto recuperado que for fornecido como base para sua " +
	"fala final. Seja breve e claro, como numa ligação. Responda em Português."

// Config contains all runtime settings for the assistant.
type Config struct {
	OpenAIAPIKey  string
	OpenAIBaseURL string

	RealtimeURL        string
	RealtimeModel      string
	RealtimeVoice      string
	Language           string
	SystemPrompt       string
	TranscriptionModel string
	SilenceDurationMs  int
	TrackTurns         bool

	RAGBackend    string
	RAGTopK       int
	RAGMinScore   float64
	RAGCorpusPath string
	EmbedModel    string
	DatabaseURL   string
	RAGTable      string
	RetrievalURL  string

	ModerationModel      string
	ModerationFailClosed bool
	ModerationTimeout    time.Duration
	RetrievalTimeout     time.Duration

	BindAddr          string
	PublicHost        string
	Greeting          string
	GreetingVoice     string
	OutboundQueueSize int
	ShutdownTimeout   time.Duration
	MetricsNamespace  string

	Environment   string
	TraceExporter string
	OTLPEndpoint  string
}

// Load reads environment variables and applies defaults. A missing API key
// yields ErrMissingCredential.
func Load() (Config, error) {
	cfg := Config{
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:      envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		RealtimeURL:        envOrDefault("REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:      envOrDefault("REALTIME_MODEL", "gpt-4o-mini-realtime-preview"),
		RealtimeVoice:      envOrDefault("REALTIME_VOICE", "alloy"),
		Language:           envOrDefault("LANGUAGE", "pt"),
		SystemPrompt:       envOrDefault("SYSTEM_PROMPT", defaultSystemPrompt),
		TranscriptionModel: envOrDefault("TRANSCRIPTION_MODEL", "whisper-1"),
		SilenceDurationMs:  700,

		RAGBackend:    strings.ToLower(envOrDefault("RAG_BACKEND", BackendMemory)),
		RAGTopK:       3,
		RAGCorpusPath: envOrDefault("RAG_CORPUS_PATH", "data/knowledge.jsonl"),
		EmbedModel:    envOrDefault("EMBED_MODEL", "text-embedding-3-small"),
		DatabaseURL:   stringsTrimSpace("DATABASE_URL"),
		RAGTable:      envOrDefault("RAG_TABLE", "knowledge_passages"),
		RetrievalURL:  stringsTrimSpace("RETRIEVAL_URL"),

		ModerationModel:   envOrDefault("MODERATION_MODEL", "omni-moderation-latest"),
		ModerationTimeout: 3 * time.Second,
		RetrievalTimeout:  4 * time.Second,

		BindAddr:          envOrDefault("APP_BIND_ADDR", ":5050"),
		PublicHost:        stringsTrimSpace("PUBLIC_HOST"),
		Greeting:          envOrDefault("GREETING", "Num momento vamos-te ajudar"),
		GreetingVoice:     envOrDefault("GREETING_VOICE", "Polly.Miguel"),
		OutboundQueueSize: 256,
		ShutdownTimeout:   10 * time.Second,
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "benefits_assistant"),

		Environment:   envOrDefault("ENVIRONMENT", "development"),
		TraceExporter: strings.ToLower(envOrDefault("TRACE_EXPORTER", "none")),
		OTLPEndpoint:  envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.SilenceDurationMs, err = intFromEnv("SILENCE_DURATION_MS", cfg.SilenceDurationMs); err != nil {
		return Config{}, err
	}
	if cfg.TrackTurns, err = boolFromEnv("TRACK_TURNS", cfg.TrackTurns); err != nil {
		return Config{}, err
	}
	if cfg.RAGTopK, err = intFromEnv("RAG_TOP_K", cfg.RAGTopK); err != nil {
		return Config{}, err
	}
	if cfg.RAGMinScore, err = floatFromEnv("RAG_MIN_SCORE", cfg.RAGMinScore); err != nil {
		return Config{}, err
	}
	if cfg.ModerationFailClosed, err = boolFromEnv("MODERATION_FAIL_CLOSED", cfg.ModerationFailClosed); err != nil {
		return Config{}, err
	}
	if cfg.ModerationTimeout, err = durationFromEnv("MODERATION_TIMEOUT", cfg.ModerationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RetrievalTimeout, err = durationFromEnv("RETRIEVAL_TIMEOUT", cfg.RetrievalTimeout); err != nil {
		return Config{}, err
	}
	if cfg.OutboundQueueSize, err = intFromEnv("OUTBOUND_QUEUE_SIZE", cfg.OutboundQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrMissingCredential)
	}
	if c.RAGTopK <= 0 {
		return fmt.Errorf("RAG_TOP_K must be positive")
	}
	if c.SilenceDurationMs <= 0 {
		return fmt.Errorf("SILENCE_DURATION_MS must be positive")
	}
	if c.ModerationTimeout <= 0 || c.RetrievalTimeout <= 0 {
		return fmt.Errorf("MODERATION_TIMEOUT and RETRIEVAL_TIMEOUT must be positive")
	}
	if c.OutboundQueueSize <= 0 {
		return fmt.Errorf("OUTBOUND_QUEUE_SIZE must be positive")
	}
	switch c.RAGBackend {
	case BackendMemory, BackendNone:
	case BackendPGVector:
		if c.DatabaseURL == "" {
			return fmt.Errorf("RAG_BACKEND=pgvector requires DATABASE_URL")
		}
	case BackendHTTP:
		if c.RetrievalURL == "" {
			return fmt.Errorf("RAG_BACKEND=http requires RETRIEVAL_URL")
		}
	default:
		return fmt.Errorf("unknown RAG_BACKEND %q", c.RAGBackend)
	}
	switch c.TraceExporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("unknown TRACE_EXPORTER %q", c.TraceExporter)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
