package call

import (
	"encoding/json"
	"errors"

	"go.uber.org/multierr"
)

var (
	ErrBufferFlushed = errors.New("candidate buffer already flushed")
	ErrBufferClosed  = errors.New("candidate buffer discarded")
)

type bufferState int

const (
	bufferPending bufferState = iota
	bufferFlushed
	bufferDiscarded
)

// CandidateBuffer holds remote candidates that arrive before the remote
// description is known. It is flushed once, in arrival order, and is never
// written to afterwards. Callers serialize access.
type CandidateBuffer struct {
	pending []json.RawMessage
	state   bufferState
}

func NewCandidateBuffer() *CandidateBuffer {
	return &CandidateBuffer{}
}

// Offer buffers c, or applies it right away once the buffer was flushed.
func (b *CandidateBuffer) Offer(c json.RawMessage, apply func(json.RawMessage) error) error {
	switch b.state {
	case bufferFlushed:
		return apply(c)
	case bufferDiscarded:
		return ErrBufferClosed
	}
	b.pending = append(b.pending, c)
	return nil
}

// Flush applies every buffered candidate FIFO and seals the buffer. A failing
// candidate does not stop the remaining ones; all errors are returned.
func (b *CandidateBuffer) Flush(apply func(json.RawMessage) error) error {
	switch b.state {
	case bufferFlushed:
		return ErrBufferFlushed
	case bufferDiscarded:
		return ErrBufferClosed
	}
	pending := b.pending
	b.pending = nil
	b.state = bufferFlushed

	var errs error
	for _, c := range pending {
		errs = multierr.Append(errs, apply(c))
	}
	return errs
}

// Discard drops buffered candidates; later offers are rejected.
func (b *CandidateBuffer) Discard() {
	b.pending = nil
	b.state = bufferDiscarded
}

func (b *CandidateBuffer) Len() int { return len(b.pending) }
