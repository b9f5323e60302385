// Package process launches and supervises background child processes.
//
// Callers never see native handles. Every launch gets a supervisor id
// (a UUID) and all later operations take that id.
//
// # Records and Handles
//
// A launch creates two things with the same id: a Record holding the
// captured stdout and stderr chunks plus the exit status, and a live
// handle holding the running command. The handle is dropped once the
// child is reaped; the record stays readable until a kill discards it.
// An id with a record but no handle has exited.
//
//	sup := process.NewSupervisor(process.WithShutdownGrace(2 * time.Second))
//	defer sup.Close()
//
//	id := sup.Launch(ctx, "make", []string{"test"}, process.LaunchOptions{Dir: "/src"})
//	out, ok := sup.Read(id, false)
//	fmt.Println(out.Status) // Running, Exited with code 0, ...
//
// # Spawn Failures
//
// Launch always returns an id. If the command cannot be started the error
// is stored on the record and Read reports "Failed to start: <error>".
//
// # Exit Codes
//
// The reported code is the child's own. A child killed by a signal
// reports 128 plus the signal number, as shells do.
//
// # Signals
//
// On unix each child runs in its own process group and signals go to the
// whole group. Sweep additionally collects descendants with gopsutil
// before signalling, waits the grace period, then sends SIGKILL to
// anything left.
//
// # Thread Safety
//
// All Supervisor methods are safe for concurrent use.
package process
