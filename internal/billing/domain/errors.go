package domain

import "errors"

var (
	// ErrInvalidSignature rejects a forged or unsigned payload. Terminal for
	// the request; retrying cannot change the signature.
	ErrInvalidSignature = errors.New("invalid_signature")
	// ErrMalformedPayload rejects a body that cannot be parsed after the
	// signature check passed.
	ErrMalformedPayload = errors.New("malformed_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	// ErrLockTimeout signals the per-tenant lock could not be acquired in
	// time; the provider should retry.
	ErrLockTimeout = errors.New("sequencer_lock_timeout")
)
