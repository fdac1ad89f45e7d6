package dispatch

import "errors"

var (
	ErrInvalidDraft     = errors.New("invalid draft")
	ErrInvalidRecipient = errors.New("invalid recipient address")
	ErrUnknownMode      = errors.New("unknown mode")
	ErrUnknownBatching  = errors.New("unknown batching policy")
	// ErrJointEncrypted is returned when encrypted mode is combined with joint
	// batching. Ciphertext is produced for exactly one recipient.
	ErrJointEncrypted = errors.New("encrypted mode requires per-recipient batching")
)
