package vinfra

import "github.com/pkg/errors"

// Sentinel errors covering the fatal-condition taxonomy in spec.md §7. These
// are plain sentinel values in the teacher's own style (see
// resmgr/queue.CreateQueue's "invalid queue type"), not custom error types.
var (
	// ErrStorageExhausted is returned when a VA cannot be registered and no
	// obsolete VA is available to evict.
	ErrStorageExhausted = errors.New("vinfra: VMI repository exhausted and no obsolete VA to evict")

	// ErrVMManagementFailure wraps a failure from the cloud during a
	// request or destroy operation.
	ErrVMManagementFailure = errors.New("vinfra: VM management operation failed")

	// ErrInvalidParameter marks a configuration precondition failure (for
	// example, fewer than 4 cores per physical machine).
	ErrInvalidParameter = errors.New("vinfra: invalid parameter")

	// ErrNetworkFailure completes the fatal-condition taxonomy from spec.md
	// §7. The simulated dispatch path has no network hop to fail on, so
	// nothing in this module raises it; it exists so a future transport
	// (or a substrate swapped in behind pkg/cloud's contract) has a sentinel
	// to return.
	ErrNetworkFailure = errors.New("vinfra: network failure")
)
