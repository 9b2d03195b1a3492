package mumble

import (
	"errors"
	"io"
	"net"
	"sync"
)

var ErrOutboxFull = errors.New("outbox full")

// outbox queues encoded frames for the writer goroutine so that sends from
// the loop never wait on the socket.
type outbox struct {
	mu       sync.Mutex
	q        [][]byte
	qBytes   int
	maxBytes int
	closed   bool
	signal   chan struct{}
}

func newOutbox(maxBytes int) *outbox {
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	return &outbox{maxBytes: maxBytes, signal: make(chan struct{}, 1)}
}

func (o *outbox) enqueue(frame []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return net.ErrClosed
	}
	if o.qBytes+len(frame) > o.maxBytes {
		return ErrOutboxFull
	}
	o.q = append(o.q, frame)
	o.qBytes += len(frame)

	select {
	case o.signal <- struct{}{}:
	default:
	}
	return nil
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

// take returns everything queued, blocking until there is something or the
// outbox is closed and empty.
func (o *outbox) take() ([][]byte, bool) {
	for {
		o.mu.Lock()
		if len(o.q) > 0 {
			items := o.q
			o.q = nil
			o.qBytes = 0
			o.mu.Unlock()
			return items, true
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return nil, false
		}
		<-o.signal
	}
}

// writeTo drains the outbox into w until it is closed or a write fails.
func (o *outbox) writeTo(w io.Writer) error {
	for {
		items, ok := o.take()
		if !ok {
			return nil
		}
		bufs := net.Buffers(items)
		if _, err := bufs.WriteTo(w); err != nil {
			return err
		}
	}
}
