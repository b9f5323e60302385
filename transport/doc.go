// Package transport carries JSON-RPC 2.0 messages between an MCP client and
// the server.
//
// # Available Transports
//
//   - StdioTransport: newline-delimited JSON over stdin/stdout
//   - WebSocketTransport: one text frame per message, one transport per connection
//
// # Usage
//
//	t := transport.NewStdioTransport(os.Stdin, os.Stdout, transport.DefaultConfig())
//	go t.Run(ctx)
//
//	for msg := range t.Recv() {
//	    if msg.Request != nil {
//	        t.Send(transport.NewResult(msg.Request.ID, result))
//	    }
//	}
//
// Recv is closed when the peer goes away (EOF on stdin, a closed websocket).
// Malformed input never reaches Recv: the transport answers it directly with
// a parse or invalid-request error.
//
// All transport methods are safe for concurrent use.
package transport
