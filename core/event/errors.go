package event

import "errors"

var (
	// ErrBusNil is returned when a nil bus is passed to Publish or Subscribe.
	ErrBusNil = errors.New("event bus is nil")

	// ErrBusClosed is returned when publishing to or subscribing on a closed bus.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrTopicEmpty is returned when a topic with an empty name is used.
	ErrTopicEmpty = errors.New("event topic is empty")
)
