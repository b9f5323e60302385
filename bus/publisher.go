package bus

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Publisher encodes values as JSON and publishes them under a fixed
// subject prefix, e.g. "pwalker" + "process.exited".
type Publisher struct {
	bus    MessageBus
	prefix string
}

// NewPublisher creates a publisher. An empty prefix publishes kinds as-is.
func NewPublisher(b MessageBus, prefix string) *Publisher {
	return &Publisher{bus: b, prefix: strings.Trim(prefix, ".")}
}

// Subject returns the full subject for kind.
func (p *Publisher) Subject(kind string) string {
	if p.prefix == "" {
		return kind
	}
	return p.prefix + "." + kind
}

// Publish encodes v and sends it on Subject(kind).
func (p *Publisher) Publish(kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	return p.bus.Publish(p.Subject(kind), data)
}
