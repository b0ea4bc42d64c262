// Package gateway speaks JSON-RPC 2.0 over HTTP to tool endpoints. It is a
// thin transport adapter: every wire failure maps onto the closed error set
// in the contract package, and no call is ever retried here.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	contractx "github.com/verdantlabs/greencart/assistant/contract"
)

const (
	protocolVersion      = "2025-03-26"
	sessionHeader        = "Mcp-Session-Id"
	defaultClientName    = "greencart-gateway"
	maxResponseSizeBytes = 4 << 20

	rpcCodeInvalidParams    = -32602
	rpcCodeMethodNotFound   = -32601
	rpcCodeResourceNotFound = -32002
)

// Config carries the gateway settings loaded from the environment.
type Config struct {
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"15s"`
	Version string        `envconfig:"VERSION" split_words:"true" default:"dev"`
}

// Option customizes Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithClientInfo(name, version string) Option {
	return func(c *Client) {
		if strings.TrimSpace(name) != "" {
			c.clientName = name
		}
		if strings.TrimSpace(version) != "" {
			c.clientVersion = version
		}
	}
}

// Client is the JSON-RPC side of the tool boundary. Endpoints are
// addressed by URL; the handshake is performed lazily per endpoint and
// the negotiated session rides along on every later call.
type Client struct {
	httpClient    *http.Client
	clientName    string
	clientVersion string
	nextID        atomic.Int64

	mu       sync.Mutex
	sessions map[string]string
}

var _ contractx.ToolGateway = (*Client)(nil)

func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		httpClient:    &http.Client{Timeout: timeout},
		clientName:    defaultClientName,
		clientVersion: strings.TrimSpace(cfg.Version),
		sessions:      make(map[string]string),
	}
	if client.clientVersion == "" {
		client.clientVersion = "dev"
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

/* ------------------------------ wire framing ------------------------------ */

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

/* ----------------------------- result payloads ---------------------------- */

type toolListResult struct {
	Tools []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	} `json:"tools"`
}

type resourceListResult struct {
	Resources []struct {
		URI         string `json:"uri"`
		Name        string `json:"name"`
		Description string `json:"description"`
		MimeType    string `json:"mimeType"`
	} `json:"resources"`
}

type promptListResult struct {
	Prompts []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Arguments   []struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Required    bool   `json:"required"`
		} `json:"arguments"`
	} `json:"prompts"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callToolResult struct {
	IsError bool           `json:"isError"`
	Content []contentBlock `json:"content"`
}

type readResourceResult struct {
	Contents []struct {
		URI      string `json:"uri"`
		MimeType string `json:"mimeType"`
		Text     string `json:"text"`
	} `json:"contents"`
}

type getPromptResult struct {
	Description string `json:"description"`
	Messages    []struct {
		Role    string       `json:"role"`
		Content contentBlock `json:"content"`
	} `json:"messages"`
}

/* ------------------------------- operations ------------------------------- */

// Discover lists the tools, resources and prompts an endpoint publishes.
func (c *Client) Discover(ctx context.Context, endpoint string) (contractx.Discovery, error) {
	var disc contractx.Discovery

	var tools toolListResult
	if err := c.call(ctx, endpoint, "tools/list", nil, &tools); err != nil {
		return disc, err
	}
	for _, t := range tools.Tools {
		disc.Tools = append(disc.Tools, contractx.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	var resources resourceListResult
	if err := c.call(ctx, endpoint, "resources/list", nil, &resources); err != nil {
		return disc, err
	}
	for _, r := range resources.Resources {
		disc.Resources = append(disc.Resources, contractx.ResourceDescriptor{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MimeType:    r.MimeType,
		})
	}

	var prompts promptListResult
	if err := c.call(ctx, endpoint, "prompts/list", nil, &prompts); err != nil {
		return disc, err
	}
	for _, p := range prompts.Prompts {
		tpl := contractx.PromptTemplate{Name: p.Name, Description: p.Description}
		for _, a := range p.Arguments {
			tpl.Arguments = append(tpl.Arguments, contractx.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		disc.Prompts = append(disc.Prompts, tpl)
	}

	return disc, nil
}

// Invoke calls one tool. A failure reported by the tool itself comes back
// in ToolResult.Error; only wire and protocol failures become errors.
func (c *Client) Invoke(ctx context.Context, endpoint string, tool string, args map[string]any) (contractx.ToolResult, error) {
	out := contractx.ToolResult{Tool: tool}
	if strings.TrimSpace(tool) == "" {
		return out, fmt.Errorf("%w: tool name is required", contractx.ErrInvalidParams)
	}

	params := map[string]any{"name": tool}
	if len(args) > 0 {
		params["arguments"] = args
	}

	var res callToolResult
	if err := c.call(ctx, endpoint, "tools/call", params, &res); err != nil {
		return out, err
	}

	text := joinText(res.Content)
	if res.IsError {
		out.Error = text
		return out, nil
	}

	// Tools reply with JSON payloads; fall back to the raw text when the
	// body is not valid JSON.
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err == nil {
		out.Result = decoded
	} else {
		out.Result = text
	}
	return out, nil
}

// ReadResource fetches one resource by URI.
func (c *Client) ReadResource(ctx context.Context, endpoint string, uri string) (contractx.ResourceContent, error) {
	var out contractx.ResourceContent
	if strings.TrimSpace(uri) == "" {
		return out, fmt.Errorf("%w: resource uri is required", contractx.ErrInvalidParams)
	}

	var res readResourceResult
	if err := c.call(ctx, endpoint, "resources/read", map[string]any{"uri": uri}, &res); err != nil {
		return out, err
	}
	if len(res.Contents) == 0 {
		return out, fmt.Errorf("%w: resource %s returned no contents", contractx.ErrNotFound, uri)
	}

	first := res.Contents[0]
	out.URI = first.URI
	if out.URI == "" {
		out.URI = uri
	}
	out.MimeType = first.MimeType
	out.Text = first.Text
	return out, nil
}

// RenderPrompt renders a prompt template and flattens the returned
// messages into one text block.
func (c *Client) RenderPrompt(ctx context.Context, endpoint string, name string, args map[string]string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: prompt name is required", contractx.ErrInvalidParams)
	}

	params := map[string]any{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}

	var res getPromptResult
	if err := c.call(ctx, endpoint, "prompts/get", params, &res); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(res.Messages))
	for _, msg := range res.Messages {
		if msg.Content.Text != "" {
			parts = append(parts, msg.Content.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

/* ------------------------------ session setup ----------------------------- */

func (c *Client) call(ctx context.Context, endpoint, method string, params, out any) error {
	session, err := c.ensureSession(ctx, endpoint)
	if err != nil {
		return err
	}

	result, _, err := c.roundTrip(ctx, endpoint, session, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %v", contractx.ErrUpstreamUnavailable, method, err)
	}
	return nil
}

// ensureSession performs the initialize handshake once per endpoint. The
// session header is optional: a stateless endpoint simply never sends one
// and the empty value is cached so the handshake still runs only once.
func (c *Client) ensureSession(ctx context.Context, endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("%w: endpoint url is required", contractx.ErrInvalidParams)
	}

	c.mu.Lock()
	session, ok := c.sessions[endpoint]
	c.mu.Unlock()
	if ok {
		return session, nil
	}

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: c.clientName, Version: c.clientVersion},
	}
	_, header, err := c.roundTrip(ctx, endpoint, "", "initialize", params)
	if err != nil {
		return "", err
	}
	session = header.Get(sessionHeader)

	if err := c.notify(ctx, endpoint, session, "notifications/initialized"); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.sessions[endpoint] = session
	c.mu.Unlock()
	return session, nil
}

// Forget drops the cached session for an endpoint so the next call
// re-runs the handshake. Useful after an endpoint restart.
func (c *Client) Forget(endpoint string) {
	c.mu.Lock()
	delete(c.sessions, strings.TrimSpace(endpoint))
	c.mu.Unlock()
}

/* ------------------------------ http plumbing ----------------------------- */

func (c *Client) roundTrip(ctx context.Context, endpoint, session, method string, params any) (json.RawMessage, http.Header, error) {
	payload := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	raw, header, status, err := c.post(ctx, endpoint, session, payload)
	if err != nil {
		return nil, nil, err
	}

	resp, ok := decodeResponse(raw, header.Get("Content-Type"))
	if !ok {
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return nil, nil, statusError(method, status)
		}
		return nil, nil, fmt.Errorf("%w: %s returned an unreadable body", contractx.ErrUpstreamUnavailable, method)
	}
	if resp.Error != nil {
		return nil, nil, mapRPCError(method, resp.Error)
	}
	return resp.Result, header, nil
}

// notify sends a JSON-RPC notification. Endpoints acknowledge with an
// empty 2xx and no body worth decoding.
func (c *Client) notify(ctx context.Context, endpoint, session, method string) error {
	payload := rpcRequest{JSONRPC: "2.0", Method: method}
	_, _, status, err := c.post(ctx, endpoint, session, payload)
	if err != nil {
		return err
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return statusError(method, status)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint, session string, payload rpcRequest) ([]byte, http.Header, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: marshal %s request: %v", contractx.ErrInvalidParams, payload.Method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: build %s request: %v", contractx.ErrInvalidParams, payload.Method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(sessionHeader, session)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, 0, fmt.Errorf("%w: %s deadline exceeded", contractx.ErrTimeout, payload.Method)
		}
		if errors.Is(err, context.Canceled) {
			return nil, nil, 0, err
		}
		return nil, nil, 0, fmt.Errorf("%w: %s request failed: %v", contractx.ErrUpstreamUnavailable, payload.Method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, nil, 0, fmt.Errorf("%w: read %s response: %v", contractx.ErrUpstreamUnavailable, payload.Method, err)
	}
	return raw, resp.Header, resp.StatusCode, nil
}

/* ------------------------------ body decoding ----------------------------- */

// decodeResponse handles both reply framings an endpoint may choose: a
// plain JSON body, or an SSE stream whose data lines carry the JSON-RPC
// messages. In the stream case the last decodable data line wins.
func decodeResponse(raw []byte, contentType string) (rpcResponse, bool) {
	if strings.Contains(contentType, "text/event-stream") {
		return decodeEventStream(raw)
	}

	var resp rpcResponse
	if err := json.Unmarshal(bytes.TrimSpace(raw), &resp); err != nil {
		return rpcResponse{}, false
	}
	return resp, true
}

func decodeEventStream(raw []byte) (rpcResponse, bool) {
	var (
		last  rpcResponse
		found bool
	)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSizeBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var resp rpcResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			continue
		}
		if resp.Result != nil || resp.Error != nil {
			last = resp
			found = true
		}
	}
	return last, found
}

/* ------------------------------ error mapping ----------------------------- */

func mapRPCError(method string, rpcErr *rpcError) error {
	switch rpcErr.Code {
	case rpcCodeInvalidParams:
		return fmt.Errorf("%w: %s: %s", contractx.ErrInvalidParams, method, rpcErr.Message)
	case rpcCodeMethodNotFound, rpcCodeResourceNotFound:
		return fmt.Errorf("%w: %s: %s", contractx.ErrNotFound, method, rpcErr.Message)
	default:
		return fmt.Errorf("%w: %s failed with code %d: %s", contractx.ErrUpstreamUnavailable, method, rpcErr.Code, rpcErr.Message)
	}
}

func statusError(method string, status int) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s endpoint returned 404", contractx.ErrNotFound, method)
	case status == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %s endpoint returned 408", contractx.ErrTimeout, method)
	default:
		return fmt.Errorf("%w: %s endpoint returned status %d", contractx.ErrUpstreamUnavailable, method, status)
	}
}

func joinText(blocks []contentBlock) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
