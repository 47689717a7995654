package rag

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGVectorRetriever searches a pgvector table populated out of band. The
// table needs content, source and embedding columns.
type PGVectorRetriever struct {
	pool     *pgxpool.Pool
	embedder Embedder
	query    string
	minScore float64
}

// NewPGVectorRetriever connects to databaseURL and prepares the search
// against table.
func NewPGVectorRetriever(ctx context.Context, databaseURL, table string, embedder Embedder, minScore float64) (*PGVectorRetriever, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGVectorRetriever{
		pool:     pool,
		embedder: embedder,
		query:    searchQuery(table),
		minScore: minScore,
	}, nil
}

func searchQuery(table string) string {
	return `SELECT content, COALESCE(source, ''), 1 - (embedding <=> $1::vector) AS score
		FROM ` + pgx.Identifier{table}.Sanitize() + `
		ORDER BY embedding <=> $1::vector
		LIMIT $2`
}

// Retrieve embeds query and asks the database for the nearest passages.
func (r *PGVectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: no query embedding", ErrRetrievalService)
	}

	rows, err := r.pool.Query(ctx, r.query, vectorLiteral(vectors[0]), k)
	if err != nil {
		return nil, fmt.Errorf("%w: pgvector query: %v", ErrRetrievalService, err)
	}
	defer rows.Close()

	var out []Passage
	for rows.Next() {
		var p Passage
		if err := rows.Scan(&p.Text, &p.Source, &p.Score); err != nil {
			return nil, fmt.Errorf("%w: pgvector scan: %v", ErrRetrievalService, err)
		}
		// <=> is NaN against an all-zero vector
		score, ok := admit(p.Score, r.minScore)
		if !ok {
			continue
		}
		p.Score = score
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: pgvector rows: %v", ErrRetrievalService, err)
	}
	return out, nil
}

// Close releases the connection pool.
func (r *PGVectorRetriever) Close() {
	r.pool.Close()
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
