// Package errors holds the coded errors shared by the queue, the
// supervisor, the tools and the guard.
//
// Categories tell the MCP layer how to answer:
//
//   - input: the call cannot be satisfied (unknown process, unreadable file)
//   - transient: a retry may succeed (signal delivery, unavailable bus)
//   - internal: a bug; panics land here and end the server
//
// Usage:
//
//	err := errors.NotFound("process not found", errors.WithProcessID(id))
//	if errors.IsInput(err) {
//	    return err.Error(), nil
//	}
package errors
