package gcl

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by gcl matches exactly one of these with
// errors.Is; the underlying cause, when there is one, matches as well.
var (
	// ErrDeviceUnavailable is returned when no adapter exposes a compute queue.
	ErrDeviceUnavailable = errors.New("gcl: no compute-capable device")

	// ErrDevice is returned when the driver fails to create the instance,
	// device, command encoder or fence, or another device object.
	ErrDevice = errors.New("gcl: device error")

	// ErrAllocation is returned when a buffer cannot be allocated.
	ErrAllocation = errors.New("gcl: allocation failed")

	// ErrIO is returned when a kernel artifact cannot be read.
	ErrIO = errors.New("gcl: kernel artifact unreadable")

	// ErrNotFound is returned when a kernel artifact does not exist.
	ErrNotFound = errors.New("gcl: kernel artifact not found")

	// ErrReflection is returned for malformed or unsupported kernel metadata.
	ErrReflection = errors.New("gcl: kernel reflection failed")

	// ErrPipeline is returned when the driver rejects a shader module,
	// layout or pipeline.
	ErrPipeline = errors.New("gcl: pipeline creation failed")

	// ErrDispatch is returned when recording, submitting or waiting fails.
	ErrDispatch = errors.New("gcl: dispatch failed")

	// ErrTimeout is returned when a bounded dispatch misses its deadline.
	ErrTimeout = errors.New("gcl: dispatch timed out")

	// ErrContextDestroyed is returned when using a buffer or kernel whose
	// context has been destroyed.
	ErrContextDestroyed = errors.New("gcl: context destroyed")

	// ErrKernelDestroyed is returned when binding or dispatching a destroyed
	// kernel.
	ErrKernelDestroyed = errors.New("gcl: kernel destroyed")

	// ErrContextMismatch is returned when binding a buffer of another context.
	ErrContextMismatch = errors.New("gcl: buffer belongs to another context")

	// ErrBufferOverflow is returned when sending more elements than a buffer
	// holds.
	ErrBufferOverflow = errors.New("gcl: data exceeds buffer capacity")

	// ErrBufferDestroyed is returned when using a destroyed buffer.
	ErrBufferDestroyed = errors.New("gcl: buffer destroyed")

	// ErrBufferMapped is returned when mapping an already mapped buffer.
	ErrBufferMapped = errors.New("gcl: buffer already mapped")

	// ErrBufferNotMapped is returned when unmapping a buffer that is not mapped.
	ErrBufferNotMapped = errors.New("gcl: buffer not mapped")

	// ErrUnknownBinding is returned when binding a slot the kernel does not
	// declare.
	ErrUnknownBinding = errors.New("gcl: kernel does not declare binding")

	// ErrUnboundBinding is returned (wrapped in ErrDispatch) when
	// dispatching with a declared slot left unbound.
	ErrUnboundBinding = errors.New("gcl: declared binding is unbound")
)

// Error describes a failed operation.
type Error struct {
	// Op is the operation that failed, e.g. "new context" or "dispatch".
	Op string
	// Kind is one of the Err* sentinels.
	Kind error
	// Err is the underlying cause; may be nil.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", e.Kind, e.Op)
	}
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the kind and the cause so that errors.Is matches both.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
