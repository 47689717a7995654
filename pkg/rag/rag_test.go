package rag

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordEmbedder maps text to a bag-of-keywords vector, deterministic and
// offline.
type keywordEmbedder struct {
	keywords []string
	calls    int
	err      error
}

func (e *keywordEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		v := make([]float32, len(e.keywords))
		for j, kw := range e.keywords {
			v[j] = float32(strings.Count(lower, kw))
		}
		out[i] = v
	}
	return out, nil
}

func newKeywordEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"bpc", "65 anos", "idoso", "jovem", "escola", "desempregad", "cadúnico"}}
}

var testCorpus = []Document{
	{Text: "O BPC paga um salário-mínimo a idosos com 65 anos ou mais.", Programa: "Benefício de Prestação Continuada (BPC)"},
	{Text: "O Ação Jovem ajuda o jovem a terminar a escola.", Source: "sp.gov.br"},
	{Text: "O Bolsa Trabalho é para desempregados há mais de um ano."},
	{Text: "Inscreva-se no CadÚnico no CRAS."},
}

func TestCosine(t *testing.T) {
	v := []float32{0.3, -1.2, 4, 0.5}
	assert.InDelta(t, 1.0, Cosine(v, v), 1e-9)
	assert.Equal(t, 0.0, Cosine(v, []float32{0, 0, 0, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 2}, []float32{-1, -2}), 1e-9)
	assert.False(t, math.IsNaN(Cosine([]float32{0}, []float32{0})))
}

func TestRankKeepsNegativeScoresWithoutFloor(t *testing.T) {
	docs := []document{
		{Document: Document{Text: "oposto"}, embedding: []float32{-1, 0}},
		{Document: Document{Text: "ortogonal"}, embedding: []float32{0, 1}},
		{Document: Document{Text: "vazio"}, embedding: []float32{0, 0}},
	}

	got := rank([]float32{1, 0}, docs, 3, 0)
	require.Len(t, got, 3, "top-k is returned even when every score is low")
	assert.Equal(t, "ortogonal", got[0].Text)
	assert.Equal(t, "vazio", got[1].Text)
	assert.Equal(t, "oposto", got[2].Text)
	assert.InDelta(t, -1.0, got[2].Score, 1e-9)

	assert.Empty(t, rank([]float32{1, 0}, docs, 3, 0.1), "a positive floor still filters")
}

func TestAdmitScores(t *testing.T) {
	score, ok := admit(math.NaN(), 0)
	assert.True(t, ok)
	assert.Equal(t, 0.0, score, "NaN from a zero vector is zero similarity")

	_, ok = admit(math.NaN(), 0.2)
	assert.False(t, ok)

	score, ok = admit(-0.3, 0)
	assert.True(t, ok)
	assert.Equal(t, -0.3, score)

	_, ok = admit(0.19, 0.2)
	assert.False(t, ok)
	_, ok = admit(0.2, 0.2)
	assert.True(t, ok)
}

func TestMemoryIndexBPCScenario(t *testing.T) {
	docs := append([]Document(nil), testCorpus...)
	for i := range docs {
		if docs[i].Source == "" {
			docs[i].Source = docs[i].Programa
		}
	}
	emb := newKeywordEmbedder()
	idx, err := NewMemoryIndex(context.Background(), emb, docs, 0.01)
	require.NoError(t, err)
	require.Equal(t, 4, idx.Len())
	require.Equal(t, 1, emb.calls, "corpus embedded once")

	passages, err := idx.Retrieve(context.Background(), "Tenho 65 anos e não trabalho, tenho direito ao BPC?", 3)
	require.NoError(t, err)
	require.Len(t, passages, 1, "floor drops unrelated documents")
	assert.Contains(t, passages[0].Text, "BPC")
	assert.Equal(t, "Benefício de Prestação Continuada (BPC)", passages[0].Source)

	msg := FormatContext(passages)
	assert.True(t, strings.HasPrefix(msg, ContextPreamble))
	assert.Contains(t, msg, "BPC")
	assert.Contains(t, msg, "[fonte: Benefício de Prestação Continuada (BPC)]")
}

func TestMemoryIndexDeterministicTopK(t *testing.T) {
	idx, err := NewMemoryIndex(context.Background(), newKeywordEmbedder(), testCorpus, 0)
	require.NoError(t, err)

	first, err := idx.Retrieve(context.Background(), "jovem idoso bpc desempregado", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.GreaterOrEqual(t, first[0].Score, first[1].Score)

	for i := 0; i < 5; i++ {
		again, err := idx.Retrieve(context.Background(), "jovem idoso bpc desempregado", 2)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMemoryIndexEmptyCorpus(t *testing.T) {
	emb := newKeywordEmbedder()
	idx, err := NewMemoryIndex(context.Background(), emb, nil, 0)
	require.NoError(t, err)

	passages, err := idx.Retrieve(context.Background(), "BPC", 3)
	assert.NoError(t, err)
	assert.Empty(t, passages)
	assert.Zero(t, emb.calls, "no embedding call for an empty corpus")
}

func TestMemoryIndexEmbedderFailure(t *testing.T) {
	emb := newKeywordEmbedder()
	idx, err := NewMemoryIndex(context.Background(), emb, testCorpus, 0)
	require.NoError(t, err)

	emb.err = errors.Join(ErrRetrievalService, errors.New("429"))
	_, err = idx.Retrieve(context.Background(), "BPC", 3)
	assert.ErrorIs(t, err, ErrRetrievalService)
}

func TestReadCorpusSkipsMalformed(t *testing.T) {
	in := strings.NewReader(`{"text":"a","source":"s1"}
not json

{"text":"   "}
{"text":"b","programa":"Renda Cidadã"}
`)
	docs, err := ReadCorpus(in)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "s1", docs[0].Source)
	assert.Equal(t, "Renda Cidadã", docs[1].Source)
}

func TestLoadCorpusMissingFileIsEmpty(t *testing.T) {
	docs, err := LoadCorpus(filepath.Join(t.TempDir(), "nope.jsonl"))
	assert.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadShippedCorpus(t *testing.T) {
	docs, err := LoadCorpus("../../data/knowledge.jsonl")
	require.NoError(t, err)
	assert.Len(t, docs, 5)
	for _, d := range docs {
		assert.NotEmpty(t, d.Source)
	}
}

func TestFormatContext(t *testing.T) {
	assert.Equal(t, "", FormatContext(nil))

	got := FormatContext([]Passage{
		{Text: "BPC paga um salário-mínimo.", Source: "inss", Score: 0.873},
		{Text: "Procure o CRAS.", Score: 0.5},
	})
	want := ContextPreamble +
		"- (0.87) BPC paga um salário-mínimo. [fonte: inss]\n" +
		"- (0.50) Procure o CRAS. [fonte: local]"
	assert.Equal(t, want, got)
}

func TestHTTPRetrieverResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpRetrievalRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "BPC", req.Query)
		assert.Equal(t, 2, req.K)
		w.Write([]byte(`{"results":[
			{"document":"BPC é um salário-mínimo.","metadata":{"programa":"BPC"},"score":0.9},
			{"text":"","score":0.8},
			{"text":"CadÚnico no CRAS.","source":"mds","score":0.7},
			{"text":"extra","score":0.1}
		]}`))
	}))
	defer srv.Close()

	passages, err := NewHTTPRetriever(srv.URL, nil).Retrieve(context.Background(), "BPC", 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, Passage{Text: "BPC é um salário-mínimo.", Source: "BPC", Score: 0.9}, passages[0])
	assert.Equal(t, "mds", passages[1].Source)
}

func TestHTTPRetrieverAnswerField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":"Você pode ter direito ao BPC."}`))
	}))
	defer srv.Close()

	passages, err := NewHTTPRetriever(srv.URL, nil).Retrieve(context.Background(), "q", 3)
	require.NoError(t, err)
	require.Len(t, passages, 1)
	assert.Contains(t, passages[0].Text, "BPC")
}

func TestHTTPRetrieverErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPRetriever(srv.URL, nil).Retrieve(context.Background(), "q", 3)
	assert.ErrorIs(t, err, ErrRetrievalService)

	_, err = NewHTTPRetriever("http://127.0.0.1:1", nil).Retrieve(context.Background(), "q", 3)
	assert.ErrorIs(t, err, ErrRetrievalService)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[]", vectorLiteral(nil))
	assert.Equal(t, "[0.5,-1,0.25]", vectorLiteral([]float32{0.5, -1, 0.25}))
	assert.Contains(t, searchQuery(`passages"; drop`), `"passages""; drop"`)
}

func TestPGVectorRetrieverLive(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	r, err := NewPGVectorRetriever(context.Background(), dsn, "knowledge_passages", newKeywordEmbedder(), 0)
	require.NoError(t, err)
	defer r.Close()
	_, err = r.Retrieve(context.Background(), "BPC", 3)
	assert.NoError(t, err)
}

func TestNopRetriever(t *testing.T) {
	p, err := Nop{}.Retrieve(context.Background(), "x", 3)
	assert.NoError(t, err)
	assert.Empty(t, p)
}
