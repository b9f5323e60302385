package transport

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// StdioTransport implements Transport over newline-delimited JSON on a
// reader/writer pair, normally stdin and stdout.
type StdioTransport struct {
	reader io.Reader
	writer io.Writer
	config Config

	recv   chan *InboundMessage
	send   chan *OutboundMessage
	done   chan struct{}
	mu     sync.Mutex
	wmu    sync.Mutex
	closed bool
	wErr   error
}

// NewStdioTransport creates a new stdio transport.
func NewStdioTransport(r io.Reader, w io.Writer, cfg Config) *StdioTransport {
	cfg = cfg.withDefaults()
	return &StdioTransport{
		reader: r,
		writer: w,
		config: cfg,
		recv:   make(chan *InboundMessage, cfg.RecvBufferSize),
		send:   make(chan *OutboundMessage, cfg.SendBufferSize),
		done:   make(chan struct{}),
	}
}

// Recv returns the channel for incoming messages. It is closed at EOF.
func (t *StdioTransport) Recv() <-chan *InboundMessage {
	return t.recv
}

// Send queues a message for delivery.
func (t *StdioTransport) Send(msg *OutboundMessage) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	select {
	case t.send <- msg:
		return nil
	case <-t.done:
		return ErrClosed
	}
}

// Run starts the transport, blocking until ctx is cancelled or Close is
// called. Queued messages are written before Run returns. The read side is
// not waited for: a blocked read on a terminal cannot be interrupted, and it
// exits on its own at EOF or once the reader is closed.
func (t *StdioTransport) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)

	go t.readLoop(ctx)

	go func() {
		defer wg.Done()
		t.writeLoop()
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-t.done:
	}

	t.Close()
	wg.Wait()

	if err == nil {
		t.wmu.Lock()
		err = t.wErr
		t.wmu.Unlock()
	}
	return err
}

// Close initiates graceful shutdown. If the reader is an io.Closer it is
// closed so the read loop unblocks.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()

	if c, ok := t.reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// readLoop reads from input and sends to recv channel.
func (t *StdioTransport) readLoop(ctx context.Context) {
	defer close(t.recv)

	scanner := bufio.NewScanner(t.reader)
	scanner.Buffer(make([]byte, 64*1024), t.config.MaxMessageSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		// scanner reuses its buffer
		data := make([]byte, len(line))
		copy(data, line)

		msg, err := ParseInbound(data)
		if err != nil {
			_ = t.Send(parseErrorResponse(data, err))
			continue
		}

		select {
		case t.recv <- msg:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

// writeLoop reads from send channel and writes to output.
func (t *StdioTransport) writeLoop() {
	for {
		select {
		case <-t.done:
			t.drainSendQueue()
			return
		case msg := <-t.send:
			t.writeMessage(msg)
		}
	}
}

// drainSendQueue writes any remaining messages in the send queue.
func (t *StdioTransport) drainSendQueue() {
	for {
		select {
		case msg := <-t.send:
			t.writeMessage(msg)
		default:
			return
		}
	}
}

// writeMessage serializes and writes a single message. The first write
// error is kept and returned by Run.
func (t *StdioTransport) writeMessage(msg *OutboundMessage) {
	data, err := MarshalOutbound(msg)
	if err != nil {
		return
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.wErr != nil {
		return
	}
	if _, err := t.writer.Write(append(data, '\n')); err != nil {
		t.wErr = err
	}
}
