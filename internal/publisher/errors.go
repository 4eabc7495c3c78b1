package publisher

import "errors"

var (
	// ErrFileMissing reports that an image or caption vanished after discovery.
	ErrFileMissing = errors.New("material file missing")
	// ErrInvalidFrequency rejects publication frequencies below 1.
	ErrInvalidFrequency = errors.New("frequency must be a positive integer")
	// ErrQueueEmpty is returned by operations that need at least one queued pair.
	ErrQueueEmpty = errors.New("queue is empty")
)

// Log kinds for the failure taxonomy.
const (
	KindFileMissing     = "file_missing"
	KindMoveFailure     = "move_failure"
	KindDeliveryFailure = "delivery_failure"
	KindConfiguration   = "configuration"
)
