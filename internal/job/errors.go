package job

import "errors"

var (
	// ErrNotFound is returned when a job record or a referenced subject does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a create-if-absent write hits an existing id
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotPending is returned when a conditional update finds the record already terminal
	ErrNotPending = errors.New("job record is not in PENDING status")

	// ErrInvalidTransition is returned for writes that would break the status state machine
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidRequest is returned for producer requests missing required fields
	ErrInvalidRequest = errors.New("invalid job request")

	// ErrUnknownKind is returned for job kinds outside the supported set
	ErrUnknownKind = errors.New("unknown job kind")

	// ErrMalformedEnvelope is returned when a queue message body cannot be decoded
	ErrMalformedEnvelope = errors.New("malformed job envelope")

	// ErrEnqueue is returned by the producer when the record was created but publishing failed
	ErrEnqueue = errors.New("failed to enqueue job envelope")
)
