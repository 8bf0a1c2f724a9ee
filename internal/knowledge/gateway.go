package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/reivaj/flowstate/pkg/schema"
)

const maxResponseSize = 10 * 1024 * 1024 // 10MB

// defaultTopK applies when a query does not set TopK.
const defaultTopK = 5

// Gateway is an HTTP Searcher talking to a retrieval service.
type Gateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewGateway creates a retrieval gateway client.
func NewGateway(baseURL, apiKey string) *Gateway {
	return &Gateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (g *Gateway) Search(ctx context.Context, q Query) ([]Passage, error) {
	if q.KnowledgeBaseID == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "knowledge query requires a knowledge_base_id")
	}
	if q.TopK <= 0 {
		q.TopK = defaultTopK
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal knowledge query: %w", err)
	}

	url := g.baseURL + "/v1/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator,
			"knowledge search against %q failed", q.KnowledgeBaseID).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(respBody)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator,
			"knowledge search returned status %d: %s", resp.StatusCode, snippet)
	}

	var result struct {
		Passages []Passage `json:"passages"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return result.Passages, nil
}
