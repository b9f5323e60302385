package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/pauldw/pwalker-mcp/errors"
	"github.com/pauldw/pwalker-mcp/process"
)

// ProcessNotFoundText is returned for ids with no record or no live process.
const ProcessNotFoundText = "Process not found."

// launchTool implements launch-background-process.
type launchTool struct {
	env *Env
}

func (t *launchTool) Name() string { return "launch-background-process" }

func (t *launchTool) Description() string {
	return "Launch a process in the background and return its ID. Use 'get-process-output' to read what it prints and 'kill-process' to stop it."
}

func (t *launchTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"command": map[string]interface{}{
			"type":        "string",
			"description": "Executable to run. Looked up on PATH when it has no slash.",
		},
		"args": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Arguments passed to the command",
		},
		"cwd": map[string]interface{}{
			"type":        "string",
			"description": "Working directory for the process",
		},
	}, "command")
}

func (t *launchTool) Execute(ctx context.Context, args Args) (string, error) {
	command, err := args.String("command")
	if err != nil {
		return "", err
	}
	if command == "" {
		return "", errors.InvalidInput("command must not be empty")
	}
	argv, err := args.StringSliceOr("args", nil)
	if err != nil {
		return "", err
	}
	cwd, err := args.StringOr("cwd", "")
	if err != nil {
		return "", err
	}

	dir := t.env.BaseDir
	if cwd != "" {
		dir = t.env.resolve(cwd)
	}

	id := t.env.Supervisor.Launch(ctx, command, argv, process.LaunchOptions{Dir: dir})
	return "Process launched successfully. ID: " + id, nil
}

// outputTool implements get-process-output.
type outputTool struct {
	env *Env
}

func (t *outputTool) Name() string { return "get-process-output" }

func (t *outputTool) Description() string {
	return "Get the status and captured stdout/stderr of a background process. Set 'clear' to discard the returned output so the next call only shows new output."
}

func (t *outputTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"processId": map[string]interface{}{
			"type":        "string",
			"description": "ID returned by launch-background-process",
		},
		"clear": map[string]interface{}{
			"type":        "boolean",
			"description": "Clear the captured output after reading it",
		},
	}, "processId")
}

func (t *outputTool) Execute(ctx context.Context, args Args) (string, error) {
	id, err := args.String("processId")
	if err != nil {
		return "", err
	}
	clearOut, err := args.BoolOr("clear", false)
	if err != nil {
		return "", err
	}

	out, ok := t.env.Supervisor.Read(id, clearOut)
	if !ok {
		return ProcessNotFoundText, nil
	}
	return FormatOutput(out), nil
}

// FormatOutput renders a process output snapshot.
func FormatOutput(out process.Output) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Process ID: %s\n", out.ID)
	fmt.Fprintf(&b, "Status: %s\n", out.Status)
	b.WriteString("\nSTDOUT:\n")
	b.WriteString(out.Stdout)
	b.WriteString("\n\nSTDERR:\n")
	b.WriteString(out.Stderr)
	return b.String()
}

// killTool implements kill-process.
type killTool struct {
	env *Env
}

func (t *killTool) Name() string { return "kill-process" }

func (t *killTool) Description() string {
	return "Terminate a running background process. Its captured output is discarded unless 'keepOutput' is set."
}

func (t *killTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"processId": map[string]interface{}{
			"type":        "string",
			"description": "ID returned by launch-background-process",
		},
		"keepOutput": map[string]interface{}{
			"type":        "boolean",
			"description": "Keep the captured output readable after the kill",
		},
	}, "processId")
}

func (t *killTool) Execute(ctx context.Context, args Args) (string, error) {
	id, err := args.String("processId")
	if err != nil {
		return "", err
	}
	keep, err := args.BoolOr("keepOutput", false)
	if err != nil {
		return "", err
	}

	if err := t.env.Supervisor.Kill(id, keep); err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return ProcessNotFoundText, nil
		}
		return "", err
	}
	return "Process killed successfully. ID: " + id, nil
}

// listTool implements list-processes.
type listTool struct {
	env *Env
}

func (t *listTool) Name() string { return "list-processes" }

func (t *listTool) Description() string {
	return "List every known background process with its ID, state, PID and command line, oldest first."
}

func (t *listTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{})
}

func (t *listTool) Execute(ctx context.Context, args Args) (string, error) {
	procs := t.env.Supervisor.List()
	if len(procs) == 0 {
		return "No processes.", nil
	}

	var b strings.Builder
	for i, p := range procs {
		if i > 0 {
			b.WriteByte('\n')
		}
		state := p.State.String()
		if p.State == process.StateExited {
			state = fmt.Sprintf("exited(%d)", p.ExitCode)
		}
		fmt.Fprintf(&b, "%s\t%s\tpid=%d\t%s", p.ID, state, p.PID, strings.Join(append([]string{p.Command}, p.Args...), " "))
	}
	return b.String(), nil
}
