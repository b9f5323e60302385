// Package bus carries supervisor lifecycle events off the server.
//
// Every launch, spawn failure, kill, sweep and exit is published as a
// JSON document on "<prefix>.process.<type>". Without a configured NATS
// URL the in-process MemoryBus is used and the events only reach local
// subscribers.
//
//	b := bus.NewMemoryBus(bus.DefaultConfig())
//	pub := bus.NewPublisher(b, "pwalker")
//
//	sub, _ := b.Subscribe("pwalker.process.>")
//	_ = pub.Publish("process.exited", event)
//	msg := <-sub.Messages() // msg.Subject == "pwalker.process.exited"
//
// # Implementations
//
//   - NATSBus: NATS connection; Close drains buffered events
//   - MemoryBus: in-process fan-out for single-server use and tests
//
// Subscribers never block publishers. A full subscription buffer drops
// the message.
package bus
