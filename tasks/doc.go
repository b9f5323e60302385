// Package tasks provides the shared task queue.
//
// A task is an opaque string with no identity beyond its position. The
// queue is strictly first-in, first-out and is shared by every MCP session
// served by one process.
//
// # Basic Usage
//
//	q := tasks.NewQueue()
//	q.Enqueue("write tests", "fix lint")
//	n, err := q.EnqueueFile(afero.NewOsFs(), "backlog.txt")
//
//	task, ok := q.Dequeue() // "write tests", true
//
// # Task Files
//
// A task file holds one task per line. Lines end in "\n" with an optional
// trailing "\r"; blank and whitespace-only lines are skipped. An unreadable
// file returns an IO-coded error and pushes nothing.
//
// # Thread Safety
//
// All Queue methods are safe for concurrent use. Enqueue and Dequeue are
// amortized O(1): consumed slots are reclaimed by periodic compaction.
package tasks
