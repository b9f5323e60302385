package tasks

import (
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/pauldw/pwalker-mcp/errors"
)

// compactThreshold is the number of consumed slots tolerated before the
// backing slice is shifted down.
const compactThreshold = 64

// Queue is a FIFO of opaque task strings. It is safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []string
	head  int

	pushed uint64
	popped uint64
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends tasks in order and returns how many were added.
func (q *Queue) Enqueue(tasks ...string) int {
	if len(tasks) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, tasks...)
	q.pushed += uint64(len(tasks))
	return len(tasks)
}

// Push appends tasks in order and returns the queue length after the
// append, read under the same lock.
func (q *Queue) Push(tasks ...string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, tasks...)
	q.pushed += uint64(len(tasks))
	return len(q.items) - q.head
}

// EnqueueFromSource enqueues each non-blank line of content.
func (q *Queue) EnqueueFromSource(content string) int {
	return q.Enqueue(ParseLines(content)...)
}

// EnqueueFile reads path through fs and enqueues its non-blank lines.
// A read failure leaves the queue untouched.
func (q *Queue) EnqueueFile(fs afero.Fs, path string) (int, error) {
	lines, err := ReadFile(fs, path)
	if err != nil {
		return 0, err
	}
	return q.Enqueue(lines...), nil
}

// Dequeue removes and returns the oldest task. ok is false when the queue
// is empty.
func (q *Queue) Dequeue() (task string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return "", false
	}
	task = q.items[q.head]
	q.items[q.head] = ""
	q.head++
	q.popped++

	switch {
	case q.head == len(q.items):
		q.items = q.items[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.items):
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return task, true
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Snapshot returns the queued tasks in dequeue order without removing them.
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]string, len(q.items)-q.head)
	copy(out, q.items[q.head:])
	return out
}

// Stats returns lifetime push and pop counts.
func (q *Queue) Stats() (pushed, popped uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed, q.popped
}

// ParseLines splits content on newlines, strips a trailing carriage
// return, and drops blank lines.
func ParseLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

// ReadFile reads a task file and returns its tasks.
func ReadFile(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeIO, "failed to read task file",
			errors.WithPath(path))
	}
	return ParseLines(string(data)), nil
}
