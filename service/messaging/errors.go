package messaging

import "errors"

var (
	// ErrLeaseExpired is returned when a message is settled or extended after
	// its lease deadline passed; the message may already be redelivered.
	ErrLeaseExpired = errors.New("message lease expired")

	// ErrAlreadySettled is returned on a second Ack or Nack for the same
	// delivery.
	ErrAlreadySettled = errors.New("message already settled")

	// ErrDeadLettered is returned when operating on a dead-lettered message.
	ErrDeadLettered = errors.New("message dead-lettered")

	// ErrTransient marks vendor errors that queue redelivery is expected to
	// recover; consumers nack and move on.
	ErrTransient = errors.New("transient queue error")
)
