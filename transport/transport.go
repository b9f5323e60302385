// Package transport provides pluggable transports for JSON-RPC 2.0 communication.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Common errors.
var (
	ErrClosed = errors.New("transport closed")
)

// Transport provides bidirectional JSON-RPC message passing.
type Transport interface {
	// Recv returns channel for incoming messages.
	// Channel is closed when the peer goes away or the transport shuts down.
	Recv() <-chan *InboundMessage

	// Send queues a message for delivery.
	// Returns ErrClosed if transport is closed.
	Send(msg *OutboundMessage) error

	// Run starts the transport, blocks until ctx cancelled or Close.
	// Returns nil on Close, ctx.Err() on cancellation.
	Run(ctx context.Context) error

	// Close initiates graceful shutdown.
	// Pending sends are flushed by Run before it returns.
	Close() error
}

// InboundMessage wraps an incoming JSON-RPC message.
type InboundMessage struct {
	// Request is set if this is a JSON-RPC request (has ID).
	Request *Request

	// Notification is set if this is a notification (no ID).
	Notification *Notification

	// Raw contains the original bytes.
	Raw json.RawMessage
}

// OutboundMessage wraps an outgoing JSON-RPC message.
type OutboundMessage struct {
	// Response is set when replying to a request.
	Response *Response

	// Notification is set when sending an unsolicited notification.
	Notification *Notification
}

// ParseInbound parses raw JSON into an InboundMessage.
func ParseInbound(data []byte) (*InboundMessage, error) {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewError(ParseError, err.Error())
	}

	if raw.JSONRPC != Version {
		return nil, NewError(InvalidRequest, "jsonrpc must be 2.0")
	}
	if raw.Method == "" {
		return nil, NewError(InvalidRequest, "method is required")
	}

	msg := &InboundMessage{Raw: data}

	// If ID is present and not null, it's a request
	if len(raw.ID) > 0 && string(raw.ID) != "null" {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, NewError(ParseError, err.Error())
		}
		msg.Request = &req
	} else {
		var notif Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return nil, NewError(ParseError, err.Error())
		}
		msg.Notification = &notif
	}

	return msg, nil
}

// MarshalOutbound serializes an OutboundMessage to JSON.
func MarshalOutbound(msg *OutboundMessage) ([]byte, error) {
	if msg.Response != nil {
		return json.Marshal(msg.Response)
	}
	if msg.Notification != nil {
		return json.Marshal(msg.Notification)
	}
	return nil, errors.New("empty outbound message")
}

// parseErrorResponse builds the reply for a message ParseInbound rejected,
// echoing the id when one can be recovered.
func parseErrorResponse(raw []byte, parseErr error) *OutboundMessage {
	var partial struct {
		ID json.RawMessage `json:"id"`
	}
	_ = json.Unmarshal(raw, &partial)

	rpcErr, ok := parseErr.(*Error)
	if !ok {
		rpcErr = NewError(ParseError, parseErr.Error())
	}
	return NewErrorResponse(partial.ID, rpcErr)
}

// Config holds common transport configuration.
type Config struct {
	// RecvBufferSize is the size of the receive channel buffer.
	// Default: 100
	RecvBufferSize int

	// SendBufferSize is the size of the internal send buffer.
	// Default: 100
	SendBufferSize int

	// MaxMessageSize limits a single inbound message.
	// Default: 1MB
	MaxMessageSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RecvBufferSize: 100,
		SendBufferSize: 100,
		MaxMessageSize: 1024 * 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = d.RecvBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}
