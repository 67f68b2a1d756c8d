package connector

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"backoffice-sync/internal/core"
)

const userAgent = "backoffice-sync/1.0"

// RequestDescriptor describes one HTTP call. Constructed per call, never
// reused. Body may be nil, []byte (sent raw), url.Values (form-encoded) or
// any JSON-marshalable value.
type RequestDescriptor struct {
	Method  string
	Path    string
	Query   map[string]string
	Body    interface{}
	Headers map[string]string

	// Per-request overrides; zero values defer to the connection config and
	// executor defaults.
	Timeout       time.Duration
	MaxRetries    *int
	BaseDelay     time.Duration
	SkipRateLimit bool
}

// Response is the orchestration core's result shape. Data holds the parsed
// JSON tree when the response was JSON, otherwise the raw body text. Header
// names are lower-cased.
type Response struct {
	Data     interface{}
	Raw      []byte
	Status   int
	Headers  map[string]string
	Duration time.Duration
}

// Client executes requests against one POS endpoint: URL normalization,
// default and auth header merging, timeout enforcement, body parsing, and
// conversion of protocol failures into StructuredErrors.
type Client struct {
	config     *ConnectionConfig
	httpClient *http.Client
	tokens     *TokenCache
	logger     *zap.SugaredLogger
}

func NewClient(config *ConnectionConfig, tokens *TokenCache, logger *zap.SugaredLogger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.Credentials.Type == CredentialCertificate {
		cert, err := tls.LoadX509KeyPair(config.Credentials.CertFile, config.Credentials.KeyFile)
		if err != nil {
			return nil, core.NewStructuredError(
				fmt.Sprintf("failed to load client certificate: %v", err), 0, core.CodeInvalidConfig, false)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Transport: transport},
		tokens:     tokens,
		logger:     logger,
	}, nil
}

func (c *Client) Config() *ConnectionConfig { return c.config }

// Do executes the described request. On HTTP status >= 400 both the parsed
// response and a StructuredError are returned so the retry controller can
// still merge rate-limit headers from the failed response.
func (c *Client) Do(ctx context.Context, req *RequestDescriptor) (*Response, error) {
	fullURL, err := c.buildURL(req)
	if err != nil {
		return nil, core.NewStructuredError(err.Error(), 0, core.CodeInvalidConfig, false)
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, core.NewStructuredError(fmt.Sprintf("failed to encode request body: %v", err), 0, core.CodeUnknown, false)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.config.RequestTimeout()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewStructuredError(err.Error(), 0, core.CodeUnknown, false)
	}

	httpReq.Header.Set("Accept", "application/json, text/xml, */*")
	httpReq.Header.Set("User-Agent", userAgent)
	if len(body) > 0 && contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}
	if err := c.applyAuth(ctx, httpReq); err != nil {
		return nil, err
	}

	c.logger.Debugf("%s %s headers=%v", req.Method, fullURL, core.RedactHeaders(flattenHeaders(httpReq.Header)))

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, core.FromTransportError(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, core.FromTransportError(err)
	}

	resp := &Response{
		Raw:      raw,
		Status:   httpResp.StatusCode,
		Headers:  flattenHeaders(httpResp.Header),
		Duration: elapsed,
	}

	if strings.Contains(strings.ToLower(httpResp.Header.Get("Content-Type")), "json") && len(raw) > 0 {
		var data interface{}
		if err := json.Unmarshal(raw, &data); err == nil {
			resp.Data = data
		} else {
			resp.Data = string(raw)
		}
	} else {
		resp.Data = string(raw)
	}

	if httpResp.StatusCode >= 400 {
		return resp, errorFromResponse(resp)
	}

	return resp, nil
}

func (c *Client) buildURL(req *RequestDescriptor) (string, error) {
	base, err := url.Parse(c.config.BaseURL())
	if err != nil {
		return "", err
	}
	base.Path = "/" + strings.TrimLeft(req.Path, "/")

	if len(req.Query) > 0 {
		values := url.Values{}
		for name, value := range req.Query {
			values.Set(name, value)
		}
		base.RawQuery = values.Encode()
	}
	return base.String(), nil
}

func (c *Client) applyAuth(ctx context.Context, httpReq *http.Request) error {
	creds := &c.config.Credentials
	switch creds.Type {
	case CredentialAPIKey:
		header := creds.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		httpReq.Header.Set(header, creds.APIKey)
	case CredentialBasic:
		httpReq.SetBasicAuth(creds.Username, creds.Password)
	case CredentialOAuth2:
		if c.tokens == nil {
			return core.NewStructuredError("oauth2 credentials require a token cache", 0, core.CodeInvalidConfig, false)
		}
		token, err := c.tokens.Token(ctx, creds)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// errorFromResponse synthesizes a StructuredError from a failed response,
// pulling the message out of the common vendor error shapes before falling
// back to the numeric status.
func errorFromResponse(resp *Response) *core.StructuredError {
	message := fmt.Sprintf("request failed with status %d", resp.Status)
	code := core.HTTPErrorCode(resp.Status)

	if body, ok := resp.Data.(map[string]interface{}); ok {
		if m := vendorMessage(body); m != "" {
			message = m
		}
		if c, ok := body["code"].(string); ok && c != "" {
			code = c
		}
	}

	se := core.NewStructuredError(message, resp.Status, code, core.RetryableStatus(resp.Status))
	if body, ok := resp.Data.(map[string]interface{}); ok {
		se.Detail = body
	}
	if resp.Status == 429 {
		se.Code = core.CodeRateLimitExceeded
	}
	return se
}

func vendorMessage(body map[string]interface{}) string {
	for _, field := range []string{"message", "error", "error_description"} {
		if m, ok := body[field].(string); ok && m != "" {
			return m
		}
	}
	if list, ok := body["errors"].([]interface{}); ok && len(list) > 0 {
		switch first := list[0].(type) {
		case string:
			return first
		case map[string]interface{}:
			return vendorMessage(first)
		}
	}
	return ""
}

func encodeBody(body interface{}) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[strings.ToLower(name)] = values[0]
		}
	}
	return out
}
