package events

// Buffer collects events raised inside a transaction so they can be published
// once the transaction commits. Buffer is not safe for concurrent use.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(e Event) {
	if e == nil {
		return
	}
	b.events = append(b.events, e)
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []Event {
	out := b.events
	b.events = nil
	return out
}

// Flush publishes every buffered event to dst in emission order.
func (b *Buffer) Flush(dst Emitter) {
	if dst == nil {
		b.events = nil
		return
	}
	for _, e := range b.Drain() {
		dst.Emit(e)
	}
}

// Fanout broadcasts events to several emitters.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(e Event) {
	for _, dst := range f {
		if dst != nil {
			dst.Emit(e)
		}
	}
}
