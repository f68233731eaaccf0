// Package retrieval implements the Retrieval Answerer (C3): normalize ->
// embed -> nearest-K with MMR diversification -> grounded prompt ->
// parsed confidence. There is no keyword re-rank step.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/supportdesk/dispatcher/internal/errors"
)

// Chunk is one retrieved document fragment.
type Chunk struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func (c Chunk) Category() string {
	if v, ok := c.Metadata["category"].(string); ok {
		return v
	}
	return ""
}

// VectorIndex is the contract the answerer depends on for nearest-K
// lookup. No vector-database SDK appears in the retrieved example pack,
// so the concrete implementation is a thin REST client, mirroring the
// llm.Client adapter.
type VectorIndex interface {
	Query(ctx context.Context, text string, k int) ([]Chunk, error)
}

type HTTPVectorIndex struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPVectorIndex(baseURL, apiKey string, timeout time.Duration) *HTTPVectorIndex {
	return &HTTPVectorIndex{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type queryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type queryResponse struct {
	Matches []Chunk `json:"matches"`
}

func (v *HTTPVectorIndex) Query(ctx context.Context, text string, k int) ([]Chunk, error) {
	body, err := json.Marshal(queryRequest{Query: text, K: k})
	if err != nil {
		return nil, apperrors.Internal("failed to encode vector query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Internal("failed to build vector query request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.External("vector index", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, apperrors.External("vector index", fmt.Errorf("status %d", resp.StatusCode))
	}

	var parsed queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.External("vector index", err)
	}
	return parsed.Matches, nil
}
