package arp

import "errors"

var (
	// ErrUnknownCommand indicates the first field matches no known command.
	// Sessions ignore such lines and stay in their current state.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMalformedCommand indicates a known command with missing or invalid arguments.
	ErrMalformedCommand = errors.New("malformed command")

	// ErrInvalidPath indicates a path that cannot travel on the wire
	// (empty, or containing a separator or line terminator).
	ErrInvalidPath = errors.New("invalid path")

	// ErrLineTooLong indicates an unterminated line exceeded the configured limit.
	ErrLineTooLong = errors.New("command line too long")

	// ErrPayloadActive indicates BeginPayload was called while a payload is in flight.
	ErrPayloadActive = errors.New("payload already in progress")

	// ErrAborted indicates the stream was aborted and input is being discarded.
	ErrAborted = errors.New("stream aborted")
)
