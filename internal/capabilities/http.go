package capabilities

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPConfig configures the http.request capability.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// Param helpers shared by the builtin capabilities.

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	b, ok := v.(bool)
	if !ok {
		return defaultVal
	}
	return b
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

const httpRequestInputSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}},
    "body": {},
    "body_encoding": {"type": "string", "enum": ["json","form","text"], "default": "json"},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["bearer","basic","api_key"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "header_name": {"type": "string"},
        "header_value": {"type": "string"}
      }
    },
    "timeout": {"type": "string"},
    "follow_redirects": {"type": "boolean", "default": true},
    "max_redirects": {"type": "integer", "default": 10},
    "tls_skip_verify": {"type": "boolean", "default": false},
    "fail_on_error_status": {"type": "boolean", "default": false}
  },
  "required": ["url"]
}`

// HTTPRequest implements the "http.request" capability. Transport failures
// and, with fail_on_error_status, 4xx/5xx replies are reported as
// *ToolError so the workflow can branch on them.
type HTTPRequest struct {
	config HTTPConfig
}

// NewHTTPRequest creates a new http.request capability.
func NewHTTPRequest(cfg HTTPConfig) *HTTPRequest {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequest{config: cfg}
}

func (c *HTTPRequest) Name() string { return "http.request" }

func (c *HTTPRequest) Schema() Schema {
	return Schema{
		Description: "Execute an HTTP request with control over method, headers, body, auth and redirects.",
		InputSchema: json.RawMessage(httpRequestInputSchema),
	}
}

func (c *HTTPRequest) Invoke(ctx context.Context, args map[string]any) (any, error) {
	rawURL := stringParam(args, "url", "")
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, NewToolError(c.Name(), "invalid url %q", rawURL)
	}

	method := strings.ToUpper(stringParam(args, "method", "GET"))
	followRedirects := boolParam(args, "follow_redirects", true)
	maxRedirects := intParam(args, "max_redirects", 10)
	failOnErrorStatus := boolParam(args, "fail_on_error_status", false)

	timeout := c.config.DefaultTimeout
	if ts := stringParam(args, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil {
			timeout = d
		}
	}

	bodyReader, contentType, err := encodeBody(args)
	if err != nil {
		return nil, NewToolError(c.Name(), "encode body: %v", err).WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, NewToolError(c.Name(), "create request: %v", err).WithCause(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if hm, ok := args["headers"].(map[string]any); ok {
		for k, v := range hm {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}
	if auth, ok := args["auth"].(map[string]any); ok {
		applyAuth(req, auth)
	}

	// New client per call so per-request TLS and redirect settings never leak.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if boolParam(args, "tls_skip_verify", false) {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := &http.Client{Transport: transport}
	if !followRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if maxRedirects > 0 {
		limit := maxRedirects
		client.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		// Shutdown is not a tool failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewToolError(c.Name(), "request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBody))
	if err != nil {
		return nil, NewToolError(c.Name(), "read response body: %v", err).WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) > 0 {
		parsedBody = string(bodyBytes)
		if strings.Contains(respContentType, "application/json") {
			var jsonBody any
			if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
				parsedBody = jsonBody
			}
		}
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	if failOnErrorStatus && resp.StatusCode >= 400 {
		return nil, NewToolError(c.Name(), "server returned %d", resp.StatusCode)
	}

	return map[string]any{
		"status":       "success",
		"status_code":  resp.StatusCode,
		"status_text":  resp.Status,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}, nil
}

func encodeBody(args map[string]any) (io.Reader, string, error) {
	rawBody, ok := args["body"]
	if !ok || rawBody == nil {
		return nil, "", nil
	}
	switch stringParam(args, "body_encoding", "json") {
	case "form":
		formData, ok := rawBody.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("form body must be an object, got %T", rawBody)
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(fmt.Sprintf("%v", rawBody)), "text/plain", nil
	default:
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, "", err
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

func applyAuth(req *http.Request, auth map[string]any) {
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "api_key":
		if name := stringParam(auth, "header_name", ""); name != "" {
			req.Header.Set(name, stringParam(auth, "header_value", ""))
		}
	}
}

var _ Capability = (*HTTPRequest)(nil)
