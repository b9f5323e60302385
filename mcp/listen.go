package mcp

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pauldw/pwalker-mcp/transport"
)

// shutdownTimeout bounds how long the websocket listener waits for
// in-progress handshakes when it stops.
const shutdownTimeout = 5 * time.Second

// ServeStdio runs a single session over r and w.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	s.log.Info("serving on stdio")
	return s.Serve(ctx, transport.NewStdioTransport(r, w, transport.DefaultConfig()))
}

// ServeWebSocket accepts websocket connections on ln until ctx is
// cancelled. Every connection is an independent session. It returns once
// the listener is closed and every session has ended.
func (s *Server) ServeWebSocket(ctx context.Context, ln net.Listener, cfg transport.WebSocketConfig) error {
	var sessions sync.WaitGroup

	ws := transport.WebSocketHandler(cfg, func(r *http.Request, t *transport.WebSocketTransport) {
		log := s.log.WithComponent("mcp.ws")
		log.Info("session opened", map[string]interface{}{"remote": r.RemoteAddr})
		if err := s.Serve(ctx, t); err != nil {
			log.Warn("session ended with error", map[string]interface{}{
				"remote": r.RemoteAddr,
				"error":  err.Error(),
			})
			return
		}
		log.Info("session closed", map[string]interface{}{"remote": r.RemoteAddr})
	})

	srv := &http.Server{
		// Count the session before the upgrade so Wait below cannot miss
		// a connection that hijacks while the server is shutting down.
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessions.Add(1)
			defer sessions.Done()
			ws.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	s.log.Info("serving on websocket", map[string]interface{}{"addr": ln.Addr().String()})
	err := srv.Serve(ln)
	if stderrors.Is(err, http.ErrServerClosed) {
		err = nil
		<-stopped
	}
	sessions.Wait()
	return err
}
