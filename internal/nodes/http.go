package nodes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/reivaj/flowstate/pkg/schema"
)

const (
	maxResponseBody    = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout = 30 * time.Second
)

// bodyMethods are the HTTP methods that carry a request body.
var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// HTTPRequestExecutor issues one outbound HTTP call with resolved URL,
// headers, and body. Transport failures and non-2xx statuses both produce an
// error result; the response status and body ride in the error details so
// error-edge branches can still inspect them.
type HTTPRequestExecutor struct{}

func (e *HTTPRequestExecutor) Type() schema.NodeType { return schema.NodeTypeHTTPRequest }

func (e *HTTPRequestExecutor) Execute(ctx context.Context, ec *ExecContext) (*Result, error) {
	var data schema.HTTPRequestNodeData
	if err := schema.DecodeNodeData(ec.Node.Data, &data); err != nil {
		return errResult(err.(*schema.FlowError), ec.Node.ID), nil
	}
	if data.URL == "" {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"http_request node has no url"), ec.Node.ID), nil
	}

	rawURL := stringifyValue(ec.Resolver.ResolveString(data.URL, ec.Scope))
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return errResult(schema.NewErrorf(schema.ErrCodeConfiguration,
			"http_request node has invalid url %q", rawURL), ec.Node.ID), nil
	}

	method := strings.ToUpper(data.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := defaultHTTPTimeout
	if data.Timeout != "" {
		if d, err := time.ParseDuration(data.Timeout); err == nil {
			timeout = d
		}
	}

	var bodyReader io.Reader
	if data.Body != nil && bodyMethods[method] {
		resolved := ec.Resolver.ResolveValue(data.Body, ec.Scope)
		b, err := json.Marshal(resolved)
		if err != nil {
			return errResult(schema.NewError(schema.ErrCodeConfiguration,
				"http_request body is not JSON-serializable").WithCause(err), ec.Node.ID), nil
		}
		bodyReader = strings.NewReader(string(b))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return errResult(schema.NewError(schema.ErrCodeConfiguration,
			"http_request node produced an invalid request").WithCause(err), ec.Node.ID), nil
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range data.Headers {
		req.Header.Set(k, stringifyValue(ec.Resolver.ResolveString(v, ec.Scope)))
	}

	client := ec.Deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return errResult(schema.NewErrorf(schema.ErrCodeCollaborator,
			"http_request to %s failed: %v", rawURL, err).WithCause(err), ec.Node.ID), nil
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return errResult(schema.NewError(schema.ErrCodeCollaborator,
			"http_request failed reading response body").WithCause(err), ec.Node.ID), nil
	}

	contentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) == 0 {
		parsedBody = nil
	} else if strings.Contains(contentType, "application/json") {
		var jsonBody any
		if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
			parsedBody = jsonBody
		} else {
			parsedBody = string(bodyBytes)
		}
	} else {
		parsedBody = string(bodyBytes)
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	output := map[string]any{
		"status_code":  resp.StatusCode,
		"status":       resp.Status,
		"ok":           ok,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": contentType,
		"duration_ms":  durationMs,
	}

	if !ok {
		ferr := schema.NewErrorf(schema.ErrCodeCollaborator,
			"http_request to %s returned %s", rawURL, resp.Status).
			WithDetails(map[string]any{
				"status_code": resp.StatusCode,
				"body":        parsedBody,
			}).WithNode(ec.Node.ID)
		// The output is still recorded, so an error-edge branch can read
		// the status and body through placeholders.
		return &Result{Output: output, Err: ferr}, nil
	}

	return &Result{Output: output}, nil
}
