package peer

import "github.com/dkeye/Duet/internal/core"

// CandidateBuffer holds inbound candidates that arrived before the remote
// description. It is not safe for concurrent use; the session event loop
// owns it.
type CandidateBuffer struct {
	queue []core.Candidate
}

func (b *CandidateBuffer) Push(c core.Candidate) {
	b.queue = append(b.queue, c)
}

func (b *CandidateBuffer) Len() int { return len(b.queue) }

// Flush applies buffered candidates in arrival order. A candidate that apply
// rejects is reported through onErr and does not stop the rest; the buffer is
// empty afterwards either way.
func (b *CandidateBuffer) Flush(apply func(core.Candidate) error, onErr func(core.Candidate, error)) int {
	q := b.queue
	b.queue = nil
	for _, c := range q {
		if err := apply(c); err != nil && onErr != nil {
			onErr(c, err)
		}
	}
	return len(q)
}

// Discard drops everything. Only used once the session is closed.
func (b *CandidateBuffer) Discard() int {
	n := len(b.queue)
	b.queue = nil
	return n
}
