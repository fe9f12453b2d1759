package domain

// AggregateRoot buffers the events an aggregate raises until they are
// dispatched. Embed it in an aggregate; only methods of this package can
// append, so an aggregate stays the sole producer of events about itself.
type AggregateRoot struct {
	events []Event
}

func (a *AggregateRoot) addEvent(e Event) {
	a.events = append(a.events, e)
}

// PendingEvents returns the buffered events in the order they were raised.
func (a *AggregateRoot) PendingEvents() []Event {
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

func (a *AggregateRoot) ClearEvents() {
	a.events = nil
}

// EventSource is what the dispatch trigger point needs from an aggregate.
type EventSource interface {
	AggregateID() string
	PendingEvents() []Event
	ClearEvents()
}
