package host

import "sync"

// EventKind is the type of a host input event.
type EventKind int

const (
	EventNone EventKind = iota
	EventKeyDown
	EventKeyUp
	EventPointer
	EventTimer
)

// Platform key codes, matching the handset keypad. Negative codes are the
// soft/navigation keys; digits map to themselves.
const (
	KeyUp     = -1
	KeyDown   = -2
	KeyLeft   = -3
	KeyRight  = -4
	KeySelect = -5
	KeySoft1  = -6
	KeySoft2  = -7
	KeyClear  = -8
)

// Event is one typed input event.
type Event struct {
	Kind EventKind
	Code int // key code for key events, timer id for timer events
	X, Y int // pointer position for EventPointer
}

// EventSource exposes buffered input. Poll never blocks: it returns the
// next event and true, or a zero Event and false when none is available.
type EventSource interface {
	Poll() (Event, bool)
}

// QueueSource is an in-memory EventSource fed by Push. It backs tests and
// serves as the buffer behind the interactive front-ends.
type QueueSource struct {
	mu     sync.Mutex
	events []Event
}

// NewQueueSource creates an empty queue source.
func NewQueueSource() *QueueSource {
	return &QueueSource{}
}

// Push appends an event to the queue.
func (q *QueueSource) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
}

// Poll removes and returns the oldest queued event.
func (q *QueueSource) Poll() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := q.events[0]
	q.events = q.events[1:]
	return ev, true
}

// Len returns the number of queued events.
func (q *QueueSource) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
