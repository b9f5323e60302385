// Package heartbeat publishes periodic liveness reports for the server on
// the event bus.
//
// Each report carries the server name, whether it is still serving, and
// how many children and queued tasks it holds. Watchers on the bus can
// tell an idle server from one that has gone away: a server that exits
// cleanly sends a final "draining" beat, one that dies simply stops.
//
// # Subject Convention
//
// Heartbeats are published to <prefix>.heartbeat, e.g. pwalker.heartbeat.
//
//	sender, _ := heartbeat.NewSender(heartbeat.Config{
//	    Publisher: bus.NewPublisher(b, "pwalker"),
//	    Server:    "pwalker-mcp",
//	    Interval:  30 * time.Second,
//	    Load:      func() heartbeat.Load { ... },
//	})
//	sender.Start(ctx)
//	defer sender.Stop()
package heartbeat
