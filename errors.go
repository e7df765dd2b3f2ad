package geyserstream

import "errors"

var (
	// ErrInvalidFilter is returned when a filter describes nothing to subscribe to
	// or carries invalid addresses or data slices. It is never retried.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrConnect is returned when the duplex stream could not be opened.
	ErrConnect = errors.New("connect failed")

	// ErrStream terminates a live session. The supervisor reconnects after it.
	ErrStream = errors.New("stream failed")

	// ErrMalformedPayload marks a single frame that could not be decoded.
	// The frame is skipped and the session keeps running.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrUnsupportedFrame marks an inbound frame kind the decoder does not handle.
	ErrUnsupportedFrame = errors.New("unsupported frame")

	// ErrSinkSaturated is reported when the hand-off queue is full and a record is dropped.
	ErrSinkSaturated = errors.New("sink saturated")

	ErrAlreadySubscribed = errors.New("client is already subscribed")
)
