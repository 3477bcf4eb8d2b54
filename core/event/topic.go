package event

// Topic names an event stream and binds it to the payload type its
// subscribers receive. Declare topics as package-level values so publishers
// and subscribers share a single compile-checked definition:
//
//	var OrderPlaced = event.Topic[Order]("billing:order:placed")
//
// Topic names must be unique per bus: two topics sharing a name but carrying
// different payload types would shadow each other, and payloads that fail the
// subscriber's type assertion are dropped.
type Topic[T any] string

// String returns the topic name.
func (t Topic[T]) String() string { return string(t) }
