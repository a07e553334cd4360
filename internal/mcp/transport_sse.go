package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sseTransport posts JSON-RPC requests over HTTP. Responses come back in
// the POST body; the "sse" name follows the wire protocol's event framing
// for server-initiated messages, which this client does not consume.
type sseTransport struct {
	config    *ServerConfig
	logger    *slog.Logger
	client    *http.Client
	connected atomic.Bool
}

func newSSETransport(cfg *ServerConfig) *sseTransport {
	timeout := cfg.StartupTimeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}
	return &sseTransport{
		config: cfg,
		logger: slog.Default().With("mcp_server", cfg.Name, "transport", "sse"),
		client: &http.Client{Timeout: timeout},
	}
}

func (t *sseTransport) Connect(ctx context.Context) error {
	t.connected.Store(true)
	t.logger.Info("http transport ready", "url", t.config.URL)
	return nil
}

func (t *sseTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *sseTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	req := jsonRPCRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: paramsJSON}

	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (t *sseTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return err
	}
	_, err = t.post(ctx, jsonRPCNotification{JSONRPC: "2.0", Method: method, Params: paramsJSON})
	return err
}

func (t *sseTransport) Connected() bool {
	return t.connected.Load()
}

func (t *sseTransport) post(ctx context.Context, msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	t.logger.Debug("rpc round trip", "duration_ms", time.Since(start).Milliseconds())
	return extractSSEData(body), nil
}

// extractSSEData unwraps a text/event-stream framed body into the raw JSON
// payload; plain JSON bodies pass through unchanged.
func extractSSEData(body []byte) []byte {
	if !bytes.HasPrefix(bytes.TrimSpace(body), []byte("event:")) &&
		!bytes.HasPrefix(bytes.TrimSpace(body), []byte("data:")) {
		return body
	}
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("data:")) {
			return bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		}
	}
	return body
}
