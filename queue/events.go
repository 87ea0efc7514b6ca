package queue

type EventType string

const (
	EventUpdate              EventType = "update"
	EventSongAdded           EventType = "song_added"
	EventSongRemoved         EventType = "song_removed"
	EventCurrentChanged      EventType = "current_changed"
	EventPlaybackState       EventType = "playback_state"
	EventQueueEmpty          EventType = "queue_empty"
	EventFallbackInterrupted EventType = "fallback_interrupted"
)

// Event is a single notification emitted by the engine.
//
// Payload depends on Type:
//   - EventUpdate: QueueState
//   - EventSongAdded, EventSongRemoved, EventCurrentChanged: Song
//   - EventPlaybackState: bool
//   - EventQueueEmpty, EventFallbackInterrupted: nil
type Event struct {
	Type    EventType
	Payload interface{}
}

// Listener receives engine events. It is called synchronously with the
// engine locked, so it must return quickly and must not call back into
// the engine.
type Listener func(Event)

type listenerEntry struct {
	id int
	fn Listener
}

// Subscribe registers l and returns a function removing it again.
func (e *Engine) Subscribe(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextListenerID++
	id := e.nextListenerID
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: l})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, entry := range e.listeners {
			if entry.id == id {
				e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// ListenerCount reports how many listeners are attached.
func (e *Engine) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// emit must be called with e.mu held
func (e *Engine) emit(t EventType, payload interface{}) {
	ev := Event{Type: t, Payload: payload}
	for _, entry := range e.listeners {
		entry.fn(ev)
	}
}

func (e *Engine) emitUpdate() {
	e.emit(EventUpdate, e.state.clone())
}
