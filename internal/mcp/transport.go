package mcp

import (
	"context"
	"encoding/json"
	"fmt"
)

// Transport moves JSON-RPC messages to and from one server.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
}

// NewTransport builds the transport named by the config.
func NewTransport(cfg *ServerConfig) (Transport, error) {
	switch cfg.Transport {
	case TransportStdio:
		return newStdioTransport(cfg), nil
	case TransportSSE:
		return newSSETransport(cfg), nil
	case TransportWebSocket:
		return newWebSocketTransport(cfg), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}
