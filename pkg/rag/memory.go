package rag

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// Document is one corpus entry.
type Document struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	// Programa names the benefit program; used as the source when Source
	// is empty.
	Programa string `json:"programa,omitempty"`
}

type document struct {
	Document
	embedding []float32
}

// LoadCorpus reads a JSONL corpus file. A missing file yields an empty
// corpus; malformed lines and entries without text are skipped.
func LoadCorpus(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[RAG] Corpus %s not found, starting empty", path)
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadCorpus(f)
}

// ReadCorpus parses JSONL documents from r.
func ReadCorpus(r io.Reader) ([]Document, error) {
	var docs []Document
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var d Document
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			log.Printf("[RAG] Skipping corpus line %d: %v", line, err)
			continue
		}
		if strings.TrimSpace(d.Text) == "" {
			continue
		}
		if d.Source == "" {
			d.Source = d.Programa
		}
		docs = append(docs, d)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	return docs, nil
}

// MemoryIndex holds a corpus with embeddings computed once at construction.
// It is read-only afterwards and safe for concurrent use.
type MemoryIndex struct {
	embedder Embedder
	docs     []document
	minScore float64
}

// NewMemoryIndex embeds every document. minScore is the similarity floor
// below which passages are discarded; zero disables it.
func NewMemoryIndex(ctx context.Context, embedder Embedder, docs []Document, minScore float64) (*MemoryIndex, error) {
	idx := &MemoryIndex{embedder: embedder, minScore: minScore}
	if len(docs) == 0 {
		return idx, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed corpus: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	idx.docs = make([]document, len(docs))
	for i, d := range docs {
		idx.docs[i] = document{Document: d, embedding: vectors[i]}
	}
	log.Printf("[RAG] Indexed %d documents", len(docs))
	return idx, nil
}

// Len returns the number of indexed documents.
func (m *MemoryIndex) Len() int {
	return len(m.docs)
}

// Retrieve embeds query and ranks the corpus against it.
func (m *MemoryIndex) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	if len(m.docs) == 0 {
		return nil, nil
	}
	vectors, err := m.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: no query embedding", ErrRetrievalService)
	}
	return rank(vectors[0], m.docs, k, m.minScore), nil
}
