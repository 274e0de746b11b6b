package network

import (
	"sync"
	"time"
)

// Outbox is a connection's bounded queue of encoded frames. Producers never
// block: when the queue is full Enqueue fails and the caller decides what to
// do with the slow consumer.
type Outbox struct {
	mu     sync.Mutex
	ch     chan []byte
	closed bool
}

func NewOutbox(size int) *Outbox {
	return &Outbox{ch: make(chan []byte, size)}
}

// Enqueue queues a frame. It returns false if the outbox is full or closed.
func (o *Outbox) Enqueue(frame []byte) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return false
	}
	select {
	case o.ch <- frame:
		return true
	default:
		return false
	}
}

// Close stops the outbox; the write pump flushes what is queued, sends a close
// frame and exits. Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

func (o *Outbox) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Len is the number of frames waiting to be written.
func (o *Outbox) Len() int {
	return len(o.ch)
}

// WritePump drains the outbox into the connection and pings the peer every
// pingInterval. It returns when the outbox is closed or a write fails.
func WritePump(conn Connection, out *Outbox, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-out.ch:
			if !ok {
				conn.CloseGracefully()
				return
			}
			if err := conn.WriteFrame(frame); err != nil {
				out.Close()
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				out.Close()
				conn.Close()
				return
			}
		}
	}
}
