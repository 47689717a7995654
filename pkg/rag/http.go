package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPRetriever delegates to an external retrieval service. The service
// receives {"query": text, "k": n} and answers either with a list of ranked
// results or with a single answer/message field.
type HTTPRetriever struct {
	url    string
	client *http.Client
}

// NewHTTPRetriever creates a retriever posting to url.
func NewHTTPRetriever(url string, client *http.Client) *HTTPRetriever {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRetriever{url: url, client: client}
}

type httpRetrievalRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type httpRetrievalResult struct {
	Text     string         `json:"text"`
	Document string         `json:"document"`
	Source   string         `json:"source"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

type httpRetrievalResponse struct {
	Results []httpRetrievalResult `json:"results"`
	Answer  string                `json:"answer"`
	Message string                `json:"message"`
}

func (r *HTTPRetriever) Retrieve(ctx context.Context, query string, k int) ([]Passage, error) {
	body, err := json.Marshal(httpRetrievalRequest{Query: query, K: k})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalService, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrievalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrRetrievalService, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded httpRetrievalResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrRetrievalService, err)
	}
	return decoded.passages(k), nil
}

func (d httpRetrievalResponse) passages(k int) []Passage {
	var out []Passage
	for _, res := range d.Results {
		text := res.Text
		if text == "" {
			text = res.Document
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		src := res.Source
		if src == "" {
			src = metadataSource(res.Metadata)
		}
		out = append(out, Passage{Text: text, Source: src, Score: res.Score})
	}

	if len(out) == 0 {
		answer := d.Answer
		if answer == "" {
			answer = d.Message
		}
		if strings.TrimSpace(answer) != "" {
			out = append(out, Passage{Text: answer, Source: "servico", Score: 1})
		}
	}

	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func metadataSource(meta map[string]any) string {
	for _, key := range []string{"source", "programa"} {
		if v, ok := meta[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
