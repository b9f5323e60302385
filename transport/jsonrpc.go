package transport

import (
	"encoding/json"
	"fmt"
)

// Version is the only JSON-RPC version accepted.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response. A nil ID is encoded as null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("jsonrpc %d: %s: %v", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc %d: %s", e.Code, e.Message)
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// NewError builds an Error with the standard message for code.
func NewError(code int, data interface{}) *Error {
	msg := "Server error"
	switch code {
	case ParseError:
		msg = "Parse error"
	case InvalidRequest:
		msg = "Invalid Request"
	case MethodNotFound:
		msg = "Method not found"
	case InvalidParams:
		msg = "Invalid params"
	case InternalError:
		msg = "Internal error"
	}
	return &Error{Code: code, Message: msg, Data: data}
}

// Notification represents a JSON-RPC 2.0 notification (no ID).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// NewResult builds a success response for id.
func NewResult(id json.RawMessage, result interface{}) *OutboundMessage {
	return &OutboundMessage{Response: &Response{JSONRPC: Version, ID: id, Result: result}}
}

// NewErrorResponse builds an error response for id.
func NewErrorResponse(id json.RawMessage, err *Error) *OutboundMessage {
	return &OutboundMessage{Response: &Response{JSONRPC: Version, ID: id, Error: err}}
}
