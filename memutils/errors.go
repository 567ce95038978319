package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrOutOfMemory is returned when the arena cannot supply another page because the configured page limit
// has been reached. It is never retried internally; the embedding VM decides what to do with it.
var ErrOutOfMemory error = errors.New("vm heap exhausted")

// ErrInvalidHandle is returned by block metadata when a handle does not map to a live allocation
var ErrInvalidHandle error = errors.New("received a handle that was incompatible with this metadata")
