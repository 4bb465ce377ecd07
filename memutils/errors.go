package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ErrInvalidRequest is returned when an allocation request has a shape the heap can never satisfy, such
// as an alignment that is not a power of two or is larger than a page. It is never returned for requests
// that merely don't fit right now.
var ErrInvalidRequest error = errors.New("invalid allocation request")

// ErrOutOfMemory is returned when a well-formed request cannot be satisfied: either the rounded-up size
// is larger than the heap, or no free block at or above the needed order is available. The heap remains
// usable after this error.
var ErrOutOfMemory error = errors.New("out of memory")

// ErrContractViolation marks errors produced by broken caller contracts: a null or misaligned heap base,
// bad heap geometry, or a heap too small to hold a free-block header.
var ErrContractViolation error = errors.New("allocator contract violation")
