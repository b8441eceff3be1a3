// Package mirror forwards status-change events to an optional external
// display. Publishing is strictly non-blocking and best-effort: mirror
// failures are logged, never propagated as orchestrator errors.
package mirror

import (
	"sync"

	"laneflow/pkg/eventlog"
	"laneflow/pkg/logx"
)

// Mirror receives status events for external presentation.
type Mirror interface {
	// Publish forwards one event. Implementations must not block the
	// caller and must swallow their own failures.
	Publish(event eventlog.Event)

	// Close flushes and stops the mirror.
	Close()
}

// Nop is a mirror that discards everything.
type Nop struct{}

func (Nop) Publish(eventlog.Event) {}
func (Nop) Close()                 {}

// EventLogMirror buffers events through a channel and writes them to an
// event log in the background. When the buffer is full, events are dropped
// with a warning rather than stalling the orchestrator.
type EventLogMirror struct {
	writer *eventlog.Writer
	events chan eventlog.Event
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	closed bool
	logger *logx.Logger
}

// NewEventLogMirror creates a mirror backed by the given event log writer.
func NewEventLogMirror(writer *eventlog.Writer, bufferSize int) *EventLogMirror {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	m := &EventLogMirror{
		writer: writer,
		events: make(chan eventlog.Event, bufferSize),
		done:   make(chan struct{}),
		logger: logx.NewLogger("mirror"),
	}
	go m.drain()
	return m
}

// Publish queues the event, dropping it if the buffer is full or the mirror
// has been closed.
func (m *EventLogMirror) Publish(event eventlog.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.logger.Warn("Mirror closed, dropping %s event for %s", event.Type, event.WorkItemID)
		return
	}
	select {
	case m.events <- event:
	default:
		m.logger.Warn("Mirror buffer full, dropping %s event for %s", event.Type, event.WorkItemID)
	}
}

// Close stops the background writer after flushing queued events.
func (m *EventLogMirror) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		close(m.events)
		<-m.done
	})
}

func (m *EventLogMirror) drain() {
	defer close(m.done)
	for event := range m.events {
		if err := m.writer.Write(event); err != nil {
			m.logger.Warn("Failed to mirror %s event: %v", event.Type, err)
		}
	}
}
