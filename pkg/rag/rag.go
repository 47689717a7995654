// Package rag retrieves ranked reference passages for a caller utterance.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrRetrievalService is returned when a retrieval backend fails. Callers
// treat it as zero passages.
var ErrRetrievalService = errors.New("retrieval service error")

// DefaultSource labels passages whose corpus entry has no provenance.
const DefaultSource = "local"

// ContextPreamble introduces retrieved passages to the dialogue engine.
const ContextPreamble = "Contexto recuperado (RAG). Use-o se for relevante, e cite as fontes, se for o caso. Evite inventar:\n"

// Passage is one ranked unit of reference text.
type Passage struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// Retriever returns at most k passages ordered by descending relevance. An
// empty result is not an error.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// Nop is a Retriever that never finds anything.
type Nop struct{}

func (Nop) Retrieve(context.Context, string, int) ([]Passage, error) { return nil, nil }

// FormatContext renders passages as the system message injected before a
// response. It returns "" for no passages.
func FormatContext(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(ContextPreamble)
	for i, p := range passages {
		if i > 0 {
			b.WriteByte('\n')
		}
		src := p.Source
		if src == "" {
			src = DefaultSource
		}
		fmt.Fprintf(&b, "- (%.2f) %s [fonte: %s]", p.Score, p.Text, src)
	}
	return b.String()
}
