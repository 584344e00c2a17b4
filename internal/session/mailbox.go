package session

import "sync"

// mailbox is an unbounded FIFO so capture callbacks invoked from inside a
// transition (for example Ended fired synchronously by Stop) never block the loop.
type mailbox struct {
	mu     sync.Mutex
	events []Event
	closed bool
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(event Event) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.events = append(m.events, event)
	m.mu.Unlock()

	m.signal()
	return nil
}

// take drains queued events. Once closed, queued events are discarded.
func (m *mailbox) take() ([]Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.events = nil
		return nil, true
	}
	events := m.events
	m.events = nil
	return events, false
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
}

func (m *mailbox) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
