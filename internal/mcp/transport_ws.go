package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsTransport speaks JSON-RPC over a websocket connection.
type wsTransport struct {
	config *ServerConfig
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	pending   map[string]chan *jsonRPCResponse
	pendingMu sync.Mutex

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func newWebSocketTransport(cfg *ServerConfig) *wsTransport {
	return &wsTransport{
		config:   cfg,
		logger:   slog.Default().With("mcp_server", cfg.Name, "transport", "websocket"),
		pending:  make(map[string]chan *jsonRPCResponse),
		stopChan: make(chan struct{}),
	}
}

func (t *wsTransport) Connect(ctx context.Context) error {
	header := http.Header{}
	for k, v := range t.config.Headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, t.config.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.config.URL, err)
	}
	t.conn = conn
	t.connected.Store(true)
	t.logger.Info("websocket connected", "url", t.config.URL)

	t.wg.Add(1)
	go t.readLoop()
	return nil
}

func (t *wsTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

func (t *wsTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	id := "ws-" + fmt.Sprint(time.Now().UnixNano())
	req := jsonRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}

	respChan := make(chan *jsonRPCResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeJSON(req); err != nil {
		return nil, err
	}

	timeout := t.config.StartupTimeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}
	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

func (t *wsTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	paramsJSON, err := marshalParams(params)
	if err != nil {
		return err
	}
	return t.writeJSON(jsonRPCNotification{JSONRPC: "2.0", Method: method, Params: paramsJSON})
}

func (t *wsTransport) Connected() bool {
	return t.connected.Load()
}

func (t *wsTransport) writeJSON(msg any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (t *wsTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		var resp jsonRPCResponse
		if err := t.conn.ReadJSON(&resp); err != nil {
			if t.connected.Load() {
				t.logger.Error("websocket read error", "error", err)
			}
			return
		}
		id, ok := resp.ID.(string)
		if !ok {
			continue
		}

		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
	}
}
