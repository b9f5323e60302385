package tools

import (
	"context"
	"fmt"

	"github.com/pauldw/pwalker-mcp/errors"
	"github.com/pauldw/pwalker-mcp/tasks"
)

// NoTasksText is returned by pop-task on an empty queue.
const NoTasksText = "No tasks in the queue."

// pushTasksTool implements push-tasks.
type pushTasksTool struct {
	env *Env
}

func (t *pushTasksTool) Name() string { return "push-tasks" }

func (t *pushTasksTool) Description() string {
	return "Push a list of tasks to the task queue, from a list, a file with one task per line, or both. Can be retrieved using the 'pop-task' tool."
}

func (t *pushTasksTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{
		"tasklist": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Tasks to push, in order",
		},
		"taskfile": map[string]interface{}{
			"type":        "string",
			"description": "Path to a file with one task per line. Blank lines are skipped. Pushed after tasklist.",
		},
	})
}

func (t *pushTasksTool) Execute(ctx context.Context, args Args) (string, error) {
	list, err := args.StringSliceOr("tasklist", nil)
	if err != nil {
		return "", err
	}
	file, err := args.StringOr("taskfile", "")
	if err != nil {
		return "", err
	}

	// The file is read before anything is queued so a failure pushes nothing.
	items := list
	if file != "" {
		lines, err := tasks.ReadFile(t.env.Fs, t.env.resolve(file))
		if err != nil {
			reason := err
			if coded := errors.AsCoded(err); coded != nil && coded.Unwrap() != nil {
				reason = coded.Unwrap()
			}
			t.env.Logger.Warn("task file unreadable", map[string]interface{}{
				"path":  file,
				"error": reason.Error(),
			})
			return fmt.Sprintf("Failed to read task file %s: %v", file, reason), nil
		}
		items = append(append([]string(nil), list...), lines...)
	}

	depth := t.env.Queue.Push(items...)
	t.env.Logger.TasksPushed(len(items), depth)
	t.env.queueChanged(len(items), 0, depth)

	return fmt.Sprintf("Pushed %d tasks to the task queue. There are now %d tasks in the queue.", len(items), depth), nil
}

// popTaskTool implements pop-task.
type popTaskTool struct {
	env *Env
}

func (t *popTaskTool) Name() string { return "pop-task" }

func (t *popTaskTool) Description() string {
	return "Pop a task from the task queue. Returns '" + NoTasksText + "' if the queue is empty."
}

func (t *popTaskTool) Parameters() map[string]interface{} {
	return schema(map[string]interface{}{})
}

func (t *popTaskTool) Execute(ctx context.Context, args Args) (string, error) {
	task, ok := t.env.Queue.Dequeue()
	if !ok {
		return NoTasksText, nil
	}
	t.env.queueChanged(0, 1, t.env.Queue.Len())
	// An empty task is consumed but reads the same as an empty queue.
	if task == "" {
		return NoTasksText, nil
	}
	return task, nil
}
