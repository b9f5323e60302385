package heartbeat

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pauldw/pwalker-mcp/bus"
	"github.com/pauldw/pwalker-mcp/logging"
)

func quietLogger() *logging.Logger {
	l := logging.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSender(t *testing.T, interval time.Duration) (*Sender, bus.Subscription) {
	t.Helper()
	b := bus.NewMemoryBus(bus.DefaultConfig())
	t.Cleanup(func() { _ = b.Close() })
	sub, err := b.Subscribe("pwalker.heartbeat")
	require.NoError(t, err)

	s, err := NewSender(Config{
		Publisher: bus.NewPublisher(b, "pwalker"),
		Server:    "pwalker-mcp",
		Interval:  interval,
		Load:      func() Load { return Load{Processes: 2, QueueDepth: 5} },
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	return s, sub
}

func next(t *testing.T, sub bus.Subscription) *Heartbeat {
	t.Helper()
	select {
	case msg := <-sub.Messages():
		hb, err := Unmarshal(msg.Data)
		require.NoError(t, err)
		return hb
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
	}
	return nil
}

func TestConfigValidate(t *testing.T) {
	pub := bus.NewPublisher(bus.NewMemoryBus(bus.DefaultConfig()), "pwalker")

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Publisher: pub, Server: "s"}, false},
		{"missing publisher", Config{Server: "s"}, true},
		{"missing server", Config{Publisher: pub}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSenderBeatsAndDrains(t *testing.T) {
	s, sub := newTestSender(t, 20*time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)

	first := next(t, sub)
	assert.Equal(t, "pwalker-mcp", first.Server)
	assert.Equal(t, StatusServing, first.Status)
	assert.Equal(t, 2, first.Processes)
	assert.Equal(t, 5, first.QueueDepth)

	second := next(t, sub)
	assert.False(t, second.Timestamp.Before(first.Timestamp))

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)

	var last *Heartbeat
	for last == nil || last.Status != StatusDraining {
		last = next(t, sub)
	}
	assert.Equal(t, StatusDraining, last.Status)
}

func TestSenderStopsWithContext(t *testing.T) {
	s, sub := newTestSender(t, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, s.Start(ctx))
	assert.Equal(t, StatusServing, next(t, sub).Status)

	cancel()
	require.NoError(t, s.Stop())
	assert.Equal(t, StatusDraining, next(t, sub).Status)
}

func TestDefaultInterval(t *testing.T) {
	s, err := NewSender(Config{
		Publisher: bus.NewPublisher(bus.NewMemoryBus(bus.DefaultConfig()), ""),
		Server:    "s",
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Interval, s.interval)
}
