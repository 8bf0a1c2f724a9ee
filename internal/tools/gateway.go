package tools

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

// Gateway is an HTTP Executor talking to a tool service. Every call passes
// through a per-tool circuit breaker.
type Gateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breakers   *BreakerRegistry
}

// NewGateway creates a tool gateway client.
func NewGateway(baseURL, apiKey string, breakers *BreakerRegistry) *Gateway {
	if breakers == nil {
		breakers = NewBreakerRegistry(DefaultBreakerConfig())
	}
	return &Gateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		breakers: breakers,
	}
}

// Breakers exposes the circuit breaker registry for diagnostics.
func (g *Gateway) Breakers() *BreakerRegistry { return g.breakers }

func (g *Gateway) Execute(ctx context.Context, call Call) (map[string]any, error) {
	if call.Name == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "tool call requires a name")
	}
	if err := g.breakers.AllowRequest(call.Name); err != nil {
		return nil, err
	}

	result, err := g.doExecute(ctx, call)
	if err != nil {
		g.breakers.RecordFailure(call.Name)
		return nil, err
	}
	g.breakers.RecordSuccess(call.Name)
	return result, nil
}

func (g *Gateway) doExecute(ctx context.Context, call Call) (map[string]any, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("marshal tool call: %w", err)
	}

	url := g.baseURL + "/v1/tools/execute"
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
			"tool %q execution failed", call.Name).WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read tool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet := string(respBody)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, schema.NewErrorf(schema.ErrCodeCollaborator,
			"tool %q returned status %d: %s", call.Name, resp.StatusCode, snippet)
	}

	var result map[string]any
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parse tool response: %w", err)
	}
	return result, nil
}
