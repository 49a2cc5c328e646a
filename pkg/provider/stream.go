package provider

import (
	"context"
	"sync"

	"github.com/mirrorlake/steward/pkg/schema"
)

// Stream delivers agent events from one provider session. The event channel
// is closed only by the producer (Close); Abort signals cancellation through
// the done channel and the producer closes the stream in response, so a
// blocked Emit is never raced by a channel close from the consumer side.
type Stream struct {
	events chan schema.AgentEvent
	done   chan struct{}

	mu      sync.Mutex
	closed  bool
	ended   bool
	aborted bool
	err     error
}

// NewStream creates a stream with a small event buffer.
func NewStream() *Stream {
	return &Stream{
		events: make(chan schema.AgentEvent, 16),
		done:   make(chan struct{}),
	}
}

// Events returns the receive side. The channel is closed when the session
// ends for any reason.
func (s *Stream) Events() <-chan schema.AgentEvent {
	return s.events
}

// Emit delivers one event to the consumer. It returns false if the stream
// was closed or the context cancelled before delivery.
func (s *Stream) Emit(ctx context.Context, ev schema.AgentEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream from the producer side and is the only place the
// event channel closes. A non-nil err marks the session as failed
// (retrievable via Err); after an Abort the error outcome is already fixed
// and err is ignored. Safe to call more than once.
func (s *Stream) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if !s.aborted {
		s.err = err
	}
	if !s.ended {
		s.ended = true
		close(s.done)
	}
	close(s.events)
}

// Abort ends the stream by cancellation. Only the done channel closes here;
// the producer observes it, stops emitting, and calls Close itself. Aborted()
// reports true for consumers draining the tail.
func (s *Stream) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.aborted = true
	close(s.done)
}

// Aborted reports whether the stream ended by cancellation.
func (s *Stream) Aborted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborted
}

// Err returns the session error recorded at close, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done returns a channel closed when the stream ends. Producers select on it
// to stop work promptly after an abort.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// streamTable tracks the active stream per job so Abort can find it.
type streamTable struct {
	mu     sync.Mutex
	active map[string]*Stream
}

func newStreamTable() *streamTable {
	return &streamTable{active: make(map[string]*Stream)}
}

func (t *streamTable) track(jobID string, s *Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[jobID] = s
}

func (t *streamTable) drop(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, jobID)
}

func (t *streamTable) abort(jobID string) {
	t.mu.Lock()
	s := t.active[jobID]
	delete(t.active, jobID)
	t.mu.Unlock()
	if s != nil {
		s.Abort()
	}
}
