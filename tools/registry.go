// Package tools implements the MCP tools exposed by pwalker: the task
// queue operations and the background process operations.
package tools

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/pauldw/pwalker-mcp/logging"
	"github.com/pauldw/pwalker-mcp/process"
	"github.com/pauldw/pwalker-mcp/tasks"
)

// Tool represents an executable tool.
type Tool interface {
	// Name returns the tool name.
	Name() string
	// Description returns a description for the client.
	Description() string
	// Parameters returns the JSON schema for parameters.
	Parameters() map[string]interface{}
	// Execute runs the tool. Expected failures such as an unknown process
	// id are reported in the returned text; a returned error is either an
	// INVALID_INPUT argument problem or an unexpected fault.
	Execute(ctx context.Context, args Args) (string, error)
}

// ToolDefinition is the client-facing tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// QueueObserver is told about every queue mutation made through the tools.
type QueueObserver func(pushed, popped, depth int)

// Env is the state shared by the built-in tools.
type Env struct {
	Queue      *tasks.Queue
	Supervisor *process.Supervisor

	// Fs reads task files. Defaults to the OS filesystem.
	Fs afero.Fs

	// BaseDir anchors relative cwd and taskfile arguments.
	BaseDir string

	// OnQueue is optional.
	OnQueue QueueObserver

	Logger *logging.Logger
}

func (e *Env) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || e.BaseDir == "" {
		return p
	}
	return filepath.Join(e.BaseDir, p)
}

func (e *Env) queueChanged(pushed, popped, depth int) {
	if e.OnQueue != nil {
		e.OnQueue(pushed, popped, depth)
	}
}

// Registry holds tools in registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewBuiltinRegistry creates a registry holding every built-in tool bound
// to env.
func NewBuiltinRegistry(env *Env) *Registry {
	if env.Fs == nil {
		env.Fs = afero.NewOsFs()
	}
	if env.Logger == nil {
		env.Logger = logging.New()
	}
	env.Logger = env.Logger.WithComponent("tools")

	r := NewRegistry()
	r.Register(&pushTasksTool{env: env})
	r.Register(&popTaskTool{env: env})
	r.Register(&launchTool{env: env})
	r.Register(&outputTool{env: env})
	r.Register(&killTool{env: env})
	r.Register(&waitTool{})
	r.Register(&listTool{env: env})
	return r
}

// Register adds a tool, replacing any tool with the same name in place.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Get returns a tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has returns true if the registry has a tool with the given name.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	return r.Get(name) != nil
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Definitions returns client-facing definitions in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// schema builds an object schema from properties and required names.
func schema(properties map[string]interface{}, required ...string) map[string]interface{} {
	s := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
