package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pauldw/pwalker-mcp/errors"
	"github.com/pauldw/pwalker-mcp/logging"
	"github.com/pauldw/pwalker-mcp/metrics"
	"github.com/pauldw/pwalker-mcp/process"
	"github.com/pauldw/pwalker-mcp/tasks"
	"github.com/pauldw/pwalker-mcp/telemetry"
	"github.com/pauldw/pwalker-mcp/tools"
	"github.com/pauldw/pwalker-mcp/transport"
)

var info = Implementation{Name: "pwalker-mcp", Version: "test"}

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(io.Discard)
	return l
}

func builtinRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	log := quietLogger()
	sup := process.NewSupervisor(
		process.WithLogger(log),
		process.WithShutdownGrace(500*time.Millisecond),
	)
	t.Cleanup(func() { _ = sup.Close() })
	return tools.NewBuiltinRegistry(&tools.Env{
		Queue:      tasks.NewQueue(),
		Supervisor: sup,
		Fs:         afero.NewMemMapFs(),
		Logger:     log,
	})
}

// fakeTool runs fn as its body.
type fakeTool struct {
	name string
	fn   func(ctx context.Context, args tools.Args) (string, error)
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "fake" }
func (f *fakeTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (f *fakeTool) Execute(ctx context.Context, args tools.Args) (string, error) {
	return f.fn(ctx, args)
}

type rpcResponse struct {
	ID     json.RawMessage  `json:"id"`
	Result json.RawMessage  `json:"result"`
	Error  *transport.Error `json:"error"`
}

// client drives a Server over an in-memory stdio transport.
type client struct {
	t    *testing.T
	in   *io.PipeWriter
	out  *io.PipeReader
	dec  *json.Decoder
	done chan error
}

func startSession(t *testing.T, srv *Server) *client {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	c := &client{
		t:    t,
		in:   inW,
		out:  outR,
		dec:  json.NewDecoder(bufio.NewReader(outR)),
		done: make(chan error, 1),
	}
	tr := transport.NewStdioTransport(inR, outW, transport.DefaultConfig())
	go func() { c.done <- srv.Serve(context.Background(), tr) }()

	t.Cleanup(func() {
		c.out.Close()
		c.in.Close()
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			t.Error("session did not end")
		}
	})
	return c
}

func (c *client) send(line string) {
	c.t.Helper()
	_, err := c.in.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *client) recv() rpcResponse {
	c.t.Helper()
	got := make(chan rpcResponse, 1)
	errc := make(chan error, 1)
	go func() {
		var r rpcResponse
		if err := c.dec.Decode(&r); err != nil {
			errc <- err
			return
		}
		got <- r
	}()
	select {
	case r := <-got:
		return r
	case err := <-errc:
		c.t.Fatalf("decode: %v", err)
	case <-time.After(5 * time.Second):
		c.t.Fatal("timeout waiting for response")
	}
	return rpcResponse{}
}

func (c *client) call(id int, method string, params string) rpcResponse {
	c.t.Helper()
	req := `{"jsonrpc":"2.0","id":` + jsonInt(id) + `,"method":"` + method + `"`
	if params != "" {
		req += `,"params":` + params
	}
	c.send(req + "}")
	r := c.recv()
	require.Equal(c.t, jsonInt(id), string(r.ID))
	return r
}

func (c *client) callTool(id int, name, args string) ToolCallResult {
	c.t.Helper()
	r := c.call(id, MethodToolsCall, `{"name":"`+name+`","arguments":`+args+`}`)
	require.Nil(c.t, r.Error, "unexpected rpc error")
	var res ToolCallResult
	require.NoError(c.t, json.Unmarshal(r.Result, &res))
	return res
}

func jsonInt(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}

func textOf(t *testing.T, res ToolCallResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	assert.Equal(t, "text", res.Content[0].Type)
	return res.Content[0].Text
}

func TestInitialize(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger()), WithInstructions("hi")))

	tests := []struct {
		requested string
		want      string
	}{
		{"2024-11-05", "2024-11-05"},
		{"2025-03-26", "2025-03-26"},
		{"1999-01-01", LatestProtocolVersion},
	}
	for i, tt := range tests {
		r := c.call(i+1, MethodInitialize, `{"protocolVersion":"`+tt.requested+`","capabilities":{},"clientInfo":{"name":"test","version":"1"}}`)
		require.Nil(t, r.Error)

		var res InitializeResult
		require.NoError(t, json.Unmarshal(r.Result, &res))
		assert.Equal(t, tt.want, res.ProtocolVersion)
		assert.Equal(t, info, res.ServerInfo)
		assert.NotNil(t, res.Capabilities.Tools)
		assert.Equal(t, "hi", res.Instructions)
	}
}

func TestPingAndNotifications(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger())))

	c.send(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	c.send(`{"jsonrpc":"2.0","method":"notifications/unknown"}`)
	r := c.call(9, MethodPing, "")
	require.Nil(t, r.Error)
	assert.JSONEq(t, `{}`, string(r.Result))
}

func TestToolsList(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger())))

	r := c.call(1, MethodToolsList, `{}`)
	require.Nil(t, r.Error)

	var res ToolsListResult
	require.NoError(t, json.Unmarshal(r.Result, &res))

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	assert.Equal(t, []string{
		"push-tasks", "pop-task", "launch-background-process",
		"get-process-output", "kill-process", "wait", "list-processes",
	}, names)
}

func TestToolsCallQueue(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger())))

	res := c.callTool(1, "push-tasks", `{"tasklist":["one","two"]}`)
	assert.False(t, res.IsError)
	assert.Equal(t, "Pushed 2 tasks to the task queue. There are now 2 tasks in the queue.", textOf(t, res))

	assert.Equal(t, "one", textOf(t, c.callTool(2, "pop-task", `{}`)))
	assert.Equal(t, "two", textOf(t, c.callTool(3, "pop-task", `{}`)))
	assert.Equal(t, tools.NoTasksText, textOf(t, c.callTool(4, "pop-task", `{}`)))
}

func TestToolsCallPopEmptyTask(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger())))

	c.callTool(1, "push-tasks", `{"tasklist":["","after"]}`)

	res := c.callTool(2, "pop-task", `{}`)
	assert.False(t, res.IsError)
	assert.Equal(t, tools.NoTasksText, textOf(t, res))
	assert.Equal(t, "after", textOf(t, c.callTool(3, "pop-task", `{}`)))
}

func TestToolsCallProcess(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger())))

	text := textOf(t, c.callTool(1, "launch-background-process", `{"command":"echo","args":["hello"]}`))
	id := strings.TrimPrefix(text, "Process launched successfully. ID: ")
	require.NotEqual(t, text, id)

	require.Eventually(t, func() bool {
		out := textOf(t, c.callTool(2, "get-process-output", `{"processId":"`+id+`"}`))
		return strings.Contains(out, "Status: Exited with code 0") && strings.Contains(out, "STDOUT:\nhello\n")
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, tools.ProcessNotFoundText, textOf(t, c.callTool(3, "kill-process", `{"processId":"`+id+`"}`)))
}

func TestProtocolErrors(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger())))

	tests := []struct {
		name   string
		method string
		params string
		code   int
	}{
		{"unknown method", "resources/list", `{}`, transport.MethodNotFound},
		{"unknown tool", MethodToolsCall, `{"name":"nope","arguments":{}}`, transport.InvalidParams},
		{"arguments not an object", MethodToolsCall, `{"name":"pop-task","arguments":[1]}`, transport.InvalidParams},
		{"missing required", MethodToolsCall, `{"name":"launch-background-process","arguments":{}}`, transport.InvalidParams},
		{"wrong type", MethodToolsCall, `{"name":"wait","arguments":{"seconds":"soon"}}`, transport.InvalidParams},
		{"bad params", MethodToolsCall, `[]`, transport.InvalidParams},
	}
	for i, tt := range tests {
		r := c.call(i+1, tt.method, tt.params)
		require.NotNil(t, r.Error, tt.name)
		assert.Equal(t, tt.code, r.Error.Code, tt.name)
	}
}

func TestToolErrorIsResult(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "fail", fn: func(context.Context, tools.Args) (string, error) {
		return "", errors.Internal("boom")
	}})
	c := startSession(t, NewServer(info, reg, WithLogger(quietLogger())))

	res := c.callTool(1, "fail", `{}`)
	assert.True(t, res.IsError)
	assert.Equal(t, "boom", textOf(t, res))
}

func TestConcurrentCalls(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger())))

	c.send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"wait","arguments":{"seconds":0.3}}}`)
	c.send(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"pop-task","arguments":{}}}`)

	first := c.recv()
	assert.Equal(t, "2", string(first.ID), "wait must not block other requests")

	second := c.recv()
	assert.Equal(t, "1", string(second.ID))
	var res ToolCallResult
	require.NoError(t, json.Unmarshal(second.Result, &res))
	assert.Equal(t, "Waited for 0.3 seconds.", textOf(t, res))
}

func TestCancelledNotification(t *testing.T) {
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger())))

	c.send(`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"wait","arguments":{"seconds":30}}}`)
	// let the request register before cancelling it
	time.Sleep(50 * time.Millisecond)
	c.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":7,"reason":"user"}}`)

	r := c.recv()
	assert.Equal(t, "7", string(r.ID))
	var res ToolCallResult
	require.NoError(t, json.Unmarshal(r.Result, &res))
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "context canceled")
}

func TestPanicHandlerRunsOnRequestGoroutine(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "explode", fn: func(context.Context, tools.Args) (string, error) {
		panic("kaboom")
	}})

	recovered := make(chan interface{}, 1)
	srv := NewServer(info, reg, WithLogger(quietLogger()), WithPanicHandler(func() {
		if r := recover(); r != nil {
			recovered <- r
		}
	}))
	c := startSession(t, srv)

	c.send(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"explode","arguments":{}}}`)
	select {
	case r := <-recovered:
		assert.Equal(t, "kaboom", r)
	case <-time.After(5 * time.Second):
		t.Fatal("panic handler not called")
	}

	// the session keeps serving
	r := c.call(2, MethodPing, "")
	assert.Nil(t, r.Error)
}

func TestPanicHandlerCanWaitForSessionEnd(t *testing.T) {
	reg := tools.NewRegistry()
	reg.Register(&fakeTool{name: "explode", fn: func(context.Context, tools.Args) (string, error) {
		panic("kaboom")
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)

	// Shutdown from inside the panic handler stops the session and then
	// waits for Serve to return.
	sessionEnded := make(chan bool, 1)
	srv := NewServer(info, reg, WithLogger(quietLogger()), WithPanicHandler(func() {
		if recover() == nil {
			return
		}
		cancel()
		select {
		case <-served:
			sessionEnded <- true
		case <-time.After(5 * time.Second):
			sessionEnded <- false
		}
	}))

	inR, inW := io.Pipe()
	defer inW.Close()
	tr := transport.NewStdioTransport(inR, io.Discard, transport.DefaultConfig())
	go func() { served <- srv.Serve(ctx, tr) }()

	_, err := inW.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"explode","arguments":{}}}` + "\n"))
	require.NoError(t, err)

	select {
	case ended := <-sessionEnded:
		assert.True(t, ended, "Serve waited on the panicking request")
	case <-time.After(10 * time.Second):
		t.Fatal("panic handler not called")
	}
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.New()
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger()), WithMetrics(m)))

	c.callTool(1, "pop-task", `{}`)
	c.call(2, MethodToolsCall, `{"name":"nope"}`)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("pop-task", metrics.ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("nope", metrics.ResultRPCError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Sessions))
}

func TestTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	tracer := telemetry.NewTracerFromProvider(tp, "test", false)
	c := startSession(t, NewServer(info, builtinRegistry(t), WithLogger(quietLogger()), WithTracer(tracer)))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	r := c.call(1, MethodToolsCall, `{"name":"kill-process","arguments":{"processId":"abc"},"_meta":{"traceparent":"00-`+traceID+`-00f067aa0ba902b7-01"}}`)
	require.Nil(t, r.Error)

	require.Eventually(t, func() bool { return len(sr.Ended()) >= 2 }, time.Second, 10*time.Millisecond)

	spans := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range sr.Ended() {
		spans[s.Name()] = s
	}
	req, ok := spans["mcp.tools/call"]
	require.True(t, ok)
	tool, ok := spans["tool.kill-process"]
	require.True(t, ok)

	assert.Equal(t, traceID, req.SpanContext().TraceID().String())
	assert.Equal(t, req.SpanContext().SpanID(), tool.Parent().SpanID())

	var sawProcessID bool
	for _, kv := range tool.Attributes() {
		if kv.Key == "process.id" && kv.Value.AsString() == "abc" {
			sawProcessID = true
		}
	}
	assert.True(t, sawProcessID)
}

func TestServeEndsAtEOF(t *testing.T) {
	srv := NewServer(info, builtinRegistry(t), WithLogger(quietLogger()))
	input := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"push-tasks","arguments":{"tasklist":["x"]}}}` + "\n",
	)
	var out strings.Builder
	tr := transport.NewStdioTransport(input, &syncWriter{w: &out}, transport.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Serve(ctx, tr))

	// the in-flight call finished and was flushed before Serve returned
	assert.Contains(t, out.String(), "There are now 1 tasks in the queue.")
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := NewServer(info, builtinRegistry(t), WithLogger(quietLogger()))
	inR, inW := io.Pipe()
	defer inW.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeStdio(ctx, inR, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServeWebSocketSharesState(t *testing.T) {
	srv := NewServer(info, builtinRegistry(t), WithLogger(quietLogger()))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeWebSocket(ctx, ln, transport.DefaultWebSocketConfig()) }()

	url := "ws://" + ln.Addr().String() + "/"
	a, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer a.Close()
	b, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer b.Close()

	wsCall := func(conn *websocket.Conn, msg string) ToolCallResult {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var r rpcResponse
		require.NoError(t, json.Unmarshal(data, &r))
		require.Nil(t, r.Error)
		var res ToolCallResult
		require.NoError(t, json.Unmarshal(r.Result, &res))
		return res
	}

	wsCall(a, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"push-tasks","arguments":{"tasklist":["shared"]}}}`)
	res := wsCall(b, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"pop-task","arguments":{}}}`)
	assert.Equal(t, "shared", textOf(t, res))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("ServeWebSocket did not return")
	}
}
