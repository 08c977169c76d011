package tunnel

import "sync"

// EventKind identifies the notifications a Tunnel delivers to its owner.
type EventKind int

const (
	EventOpened EventKind = iota + 1
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is a notification from the tunnel.
//
// Opened carries Success and, on success, the LocalPort a protocol client
// must connect to. Closed carries Success, which is false if there was
// nothing to close. Error carries Message.
type Event struct {
	Kind      EventKind
	Success   bool
	LocalPort int
	Message   string
}

func openedEvent(success bool, port int) Event {
	return Event{Kind: EventOpened, Success: success, LocalPort: port}
}

func errorEvent(msg string) Event {
	return Event{Kind: EventError, Message: msg}
}

func closedEvent(success bool) Event {
	return Event{Kind: EventClosed, Success: success}
}

// eventQueue is an unbounded FIFO between the loop and the consumer of
// Events(). push never blocks, so a slow consumer cannot stall the loop.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	out    chan Event
	quit   <-chan struct{}
}

func newEventQueue(quit <-chan struct{}) *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		quit:   quit,
	}
	go q.run()
	return q
}

func (q *eventQueue) push(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// run forwards queued events in order until quit is closed, then closes out.
func (q *eventQueue) run() {
	defer close(q.out)

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.notify:
				continue
			case <-q.quit:
				return
			}
		}
		e := q.items[0]
		q.items[0] = Event{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- e:
		case <-q.quit:
			return
		}
	}
}
