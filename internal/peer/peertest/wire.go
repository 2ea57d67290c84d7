package peertest

import (
	"sync"

	"github.com/dkeye/Duet/internal/core"
)

// Wire is a Signaler that records what was sent.
type Wire struct {
	mu   sync.Mutex
	Fail error
	sent []core.Message
}

func (w *Wire) Send(msg core.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Fail != nil {
		return w.Fail
	}
	w.sent = append(w.sent, msg)
	return nil
}

func (w *Wire) Sent() []core.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]core.Message(nil), w.sent...)
}

// Take returns and forgets everything sent so far.
func (w *Wire) Take() []core.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.sent
	w.sent = nil
	return out
}

// Count returns how many messages of type t were sent.
func (w *Wire) Count(t core.MessageType) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, m := range w.sent {
		if m.Type == t {
			n++
		}
	}
	return n
}
