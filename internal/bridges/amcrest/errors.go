package amcrest

import "errors"

// Domain errors for the Amcrest bridge package.
var (
	// ErrDeviceUnreachable is returned when the camera cannot be contacted
	// at all (identity fetch, liveness ping).
	ErrDeviceUnreachable = errors.New("amcrest: device unreachable")

	// ErrDeviceError is returned when the camera answers but a field read,
	// field write or the event stream fails.
	ErrDeviceError = errors.New("amcrest: device error")

	// ErrEventStreamEnded is returned when the event sequence finishes
	// without an error. The sequence is meant to be infinite.
	ErrEventStreamEnded = errors.New("amcrest: event stream ended")

	// ErrBrokerConnect is returned when the initial broker connection fails.
	ErrBrokerConnect = errors.New("amcrest: broker connection failed")

	// ErrBrokerDisconnected is reported when an established broker
	// connection is lost.
	ErrBrokerDisconnected = errors.New("amcrest: broker disconnected")

	// ErrPublishFailed is returned when the broker rejects or does not
	// acknowledge a state, event, status or discovery publish.
	ErrPublishFailed = errors.New("amcrest: publish failed")

	// ErrInvalidPayload is returned for a command payload that cannot be
	// interpreted. It is never fatal.
	ErrInvalidPayload = errors.New("amcrest: invalid command payload")

	// ErrDuplicateEntity is returned when two descriptors produce the same slug.
	ErrDuplicateEntity = errors.New("amcrest: duplicate entity slug")

	// ErrDuplicateCommandTopic is returned when two entities would listen on
	// the same command topic.
	ErrDuplicateCommandTopic = errors.New("amcrest: duplicate command topic")
)
