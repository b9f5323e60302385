package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/pauldw/pwalker-mcp/errors"
	"github.com/pauldw/pwalker-mcp/logging"
	"github.com/pauldw/pwalker-mcp/metrics"
	"github.com/pauldw/pwalker-mcp/telemetry"
	"github.com/pauldw/pwalker-mcp/tools"
	"github.com/pauldw/pwalker-mcp/transport"
)

// Server dispatches MCP requests to a tool registry. One Server can serve
// any number of sessions concurrently; they share the registry and so the
// supervisor and queue behind it.
type Server struct {
	info         Implementation
	instructions string
	registry     *tools.Registry
	log          *logging.Logger
	tracer       *telemetry.Tracer
	metrics      *metrics.Metrics
	onPanic      func()
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithTracer sets the tracer used for request and tool spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPanicHandler sets a function deferred at the top of every request
// goroutine. It is expected to call recover.
func WithPanicHandler(fn func()) Option {
	return func(s *Server) { s.onPanic = fn }
}

// WithInstructions sets the instructions returned from initialize.
func WithInstructions(text string) Option {
	return func(s *Server) { s.instructions = text }
}

// NewServer creates a Server for registry.
func NewServer(info Implementation, registry *tools.Registry, opts ...Option) *Server {
	s := &Server{
		info:     info,
		registry: registry,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logging.New()
	}
	s.log = s.log.WithComponent("mcp")
	if s.tracer == nil {
		s.tracer = telemetry.GetTracer()
	}
	return s
}

// session is the per-connection request state.
type session struct {
	t        transport.Transport
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Serve runs one MCP session over t until the peer goes away or ctx is
// cancelled. Each request is handled on its own goroutine. Requests still
// running when the peer goes away are allowed to finish before t is
// closed.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	if s.metrics != nil {
		s.metrics.SessionOpened()
		defer s.metrics.SessionClosed()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- t.Run(ctx) }()

	sess := &session{t: t, inflight: make(map[string]context.CancelFunc)}
	var wg sync.WaitGroup

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case msg, ok := <-t.Recv():
			if !ok {
				break loop
			}
			wg.Add(1)
			go func() {
				// Deferred calls run last-in first-out: the request is
				// counted done before the panic handler starts shutdown,
				// which waits for this session to end.
				if s.onPanic != nil {
					defer s.onPanic()
				}
				defer wg.Done()
				s.handle(ctx, sess, msg)
			}()
		}
	}

	wg.Wait()
	_ = t.Close()
	err := <-runErr
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) handle(ctx context.Context, sess *session, msg *transport.InboundMessage) {
	if msg.Notification != nil {
		s.handleNotification(sess, msg.Notification)
		return
	}

	req := msg.Request
	ctx = extractTrace(ctx, req.Params)

	key := string(req.ID)
	ctx, cancel := context.WithCancel(ctx)
	sess.mu.Lock()
	sess.inflight[key] = cancel
	sess.mu.Unlock()
	defer func() {
		sess.mu.Lock()
		delete(sess.inflight, key)
		sess.mu.Unlock()
		cancel()
	}()

	ctx, span := s.tracer.StartRequestSpan(ctx, req.Method, key)
	result, rpcErr := s.dispatch(ctx, req)

	if rpcErr != nil {
		s.tracer.EndRequestSpan(span, rpcErr.Code, rpcErr.Message)
		_ = sess.t.Send(transport.NewErrorResponse(req.ID, rpcErr))
		return
	}
	s.tracer.EndRequestSpan(span, 0, "")
	_ = sess.t.Send(transport.NewResult(req.ID, result))
}

func (s *Server) handleNotification(sess *session, n *transport.Notification) {
	switch n.Method {
	case MethodInitialized:
		s.log.Debug("client initialized")
	case MethodCancelled:
		var p CancelledParams
		if raw, err := json.Marshal(n.Params); err == nil {
			_ = json.Unmarshal(raw, &p)
		}
		sess.mu.Lock()
		cancel, ok := sess.inflight[string(p.RequestID)]
		sess.mu.Unlock()
		if ok {
			s.log.Debug("request cancelled", map[string]interface{}{
				"id":     string(p.RequestID),
				"reason": p.Reason,
			})
			cancel()
		}
	default:
		s.log.Debug("ignored notification", map[string]interface{}{"method": n.Method})
	}
}

func (s *Server) dispatch(ctx context.Context, req *transport.Request) (interface{}, *transport.Error) {
	switch req.Method {
	case MethodInitialize:
		return s.initialize(req.Params)
	case MethodPing:
		return struct{}{}, nil
	case MethodToolsList:
		return s.listTools(), nil
	case MethodToolsCall:
		return s.callTool(ctx, req.Params)
	default:
		return nil, transport.NewError(transport.MethodNotFound, req.Method)
	}
}

func (s *Server) initialize(raw json.RawMessage) (interface{}, *transport.Error) {
	var p InitializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, transport.NewError(transport.InvalidParams, err.Error())
		}
	}
	s.log.Info("initialize", map[string]interface{}{
		"client":           p.ClientInfo.Name,
		"client_version":   p.ClientInfo.Version,
		"protocol_version": p.ProtocolVersion,
	})
	return &InitializeResult{
		ProtocolVersion: negotiateVersion(p.ProtocolVersion),
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) listTools() *ToolsListResult {
	defs := s.registry.Definitions()
	out := &ToolsListResult{Tools: make([]Tool, 0, len(defs))}
	for _, d := range defs {
		out.Tools = append(out.Tools, Tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return out
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (interface{}, *transport.Error) {
	var p ToolCallParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, transport.NewError(transport.InvalidParams, err.Error())
	}

	tool := s.registry.Get(p.Name)
	if tool == nil {
		s.recordCall(p.Name, metrics.ResultRPCError, 0)
		return nil, transport.NewError(transport.InvalidParams, "unknown tool: "+p.Name)
	}

	args, err := tools.DecodeArgs(p.Arguments)
	if err != nil {
		s.recordCall(p.Name, metrics.ResultRPCError, 0)
		return nil, transport.NewError(transport.InvalidParams, err.Error())
	}

	log := s.log
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		log = log.WithTraceID(sc.TraceID().String())
	}
	log.ToolCall(p.Name, args)

	ctx, span := s.tracer.StartToolSpan(ctx, p.Name)
	start := time.Now()
	text, err := tool.Execute(ctx, args)
	dur := time.Since(start)

	spanOpts := telemetry.ToolSpanOptions{
		Tool:      p.Name,
		Args:      args,
		Result:    text,
		IsError:   err != nil,
		ProcessID: processIDOf(args, text),
	}
	s.tracer.EndToolSpan(span, spanOpts, err)
	log.ToolResult(p.Name, dur, err)

	switch {
	case err == nil:
		s.recordCall(p.Name, metrics.ResultOK, dur)
		return TextResult(text, false), nil
	case errors.Is(err, errors.ErrCodeInvalidInput):
		s.recordCall(p.Name, metrics.ResultRPCError, dur)
		return nil, transport.NewError(transport.InvalidParams, err.Error())
	default:
		s.recordCall(p.Name, metrics.ResultToolErr, dur)
		return TextResult(err.Error(), true), nil
	}
}

func (s *Server) recordCall(tool, result string, dur time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordToolCall(tool, result, dur)
	}
}

// processIDOf finds the process a call refers to, either from its
// arguments or from a launch result.
func processIDOf(args tools.Args, text string) string {
	if id, ok := args["processId"].(string); ok {
		return id
	}
	const launched = "Process launched successfully. ID: "
	if strings.HasPrefix(text, launched) {
		return strings.TrimPrefix(text, launched)
	}
	return ""
}

// extractTrace continues a trace whose context the client put in
// params._meta.
func extractTrace(ctx context.Context, params json.RawMessage) context.Context {
	if len(params) == 0 {
		return ctx
	}
	var m requestMeta
	if err := json.Unmarshal(params, &m); err != nil || len(m.Meta) == 0 {
		return ctx
	}
	carrier := telemetry.MapCarrier{}
	for k, v := range m.Meta {
		if s, ok := v.(string); ok {
			carrier.Set(k, s)
		}
	}
	return telemetry.ExtractContext(ctx, carrier)
}
