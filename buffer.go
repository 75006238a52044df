// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gcl

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gcl/internal/memory"
)

// Element is the set of fixed-width types a Buffer can hold. Elements are
// transferred in host byte order; every supported device is little endian.
type Element interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64
}

// Bindable is a buffer that can be bound to a kernel slot.
// It is implemented by *Buffer[T] for every element type.
type Bindable interface {
	allocation() *memory.Allocation
	owner() *Context
}

// Buffer is a device buffer of a fixed number of T.
//
// Host writes reach the device only after Flush, and kernel writes reach the
// host only after Invalidate. Send and Fetch do both for you; code that uses
// Map directly must Flush before dispatching and Invalidate before reading.
type Buffer[T Element] struct {
	ctx    *Context
	alloc  *memory.Allocation
	count  int
	stride uint64

	mu        sync.Mutex
	destroyed bool
}

// NewBuffer allocates a buffer of count elements on ctx.
//
// Example:
//
//	in, err := gcl.NewBuffer[float32](ctx, 1024)
func NewBuffer[T Element](ctx *Context, count int) (*Buffer[T], error) {
	const op = "new buffer"

	if err := ctx.alive(op); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, newError(op, ErrAllocation, fmt.Errorf("element count %d", count))
	}

	var zero T
	stride := uint64(unsafe.Sizeof(zero))
	alloc, err := ctx.allocator.Allocate(ctx.label("buffer"), stride*uint64(count))
	if err != nil {
		return nil, newError(op, ErrAllocation, err)
	}

	return &Buffer[T]{
		ctx:    ctx,
		alloc:  alloc,
		count:  count,
		stride: stride,
	}, nil
}

// Size returns the buffer size in bytes.
func (b *Buffer[T]) Size() uint64 { return b.stride * uint64(b.count) }

// Elements returns the number of elements.
func (b *Buffer[T]) Elements() int { return b.count }

// Stride returns the size of one element in bytes.
func (b *Buffer[T]) Stride() uint64 { return b.stride }

func (b *Buffer[T]) allocation() *memory.Allocation { return b.alloc }

func (b *Buffer[T]) owner() *Context { return b.ctx }

// check returns the error for using a destroyed buffer or context.
func (b *Buffer[T]) check(op string) error {
	if err := b.ctx.alive(op); err != nil {
		return err
	}
	b.mu.Lock()
	destroyed := b.destroyed
	b.mu.Unlock()
	if destroyed || b.alloc.Freed() {
		return newError(op, ErrBufferDestroyed, nil)
	}
	return nil
}

// Map returns the host view of the buffer. The view is valid until Unmap.
func (b *Buffer[T]) Map() ([]byte, error) {
	const op = "map"
	if err := b.check(op); err != nil {
		return nil, err
	}
	data, err := b.alloc.Map()
	if err != nil {
		return nil, mapError(op, err)
	}
	return data, nil
}

// MapSlice is like Map but returns the view as a slice of T.
func (b *Buffer[T]) MapSlice() ([]T, error) {
	data, err := b.Map()
	if err != nil {
		return nil, err
	}
	return asElements[T](data), nil
}

// Unmap ends the mapping started by Map.
func (b *Buffer[T]) Unmap() error {
	const op = "unmap"
	if err := b.check(op); err != nil {
		return err
	}
	if err := b.alloc.Unmap(); err != nil {
		return mapError(op, err)
	}
	return nil
}

// Flush makes host writes visible to the device.
func (b *Buffer[T]) Flush() error {
	const op = "flush"
	if err := b.check(op); err != nil {
		return err
	}
	if err := b.alloc.Flush(); err != nil {
		return newError(op, ErrDevice, err)
	}
	return nil
}

// Invalidate makes device writes visible to the host.
func (b *Buffer[T]) Invalidate() error {
	const op = "invalidate"
	if err := b.check(op); err != nil {
		return err
	}
	if err := b.alloc.Invalidate(); err != nil {
		return newError(op, ErrDevice, err)
	}
	return nil
}

// Send copies data into the buffer and flushes it. Data shorter than the
// buffer overwrites a prefix; only that prefix is written to the device, so
// the rest keeps whatever a kernel last stored there.
func (b *Buffer[T]) Send(data []T) error {
	const op = "send"
	if len(data) > b.count {
		return newError(op, ErrBufferOverflow, fmt.Errorf("%d elements into buffer of %d", len(data), b.count))
	}
	n := uint64(len(data)) * b.stride
	if n%memory.Alignment != 0 && len(data) < b.count {
		// The last word is shared with bytes Send must not change.
		if err := b.check(op); err != nil {
			return err
		}
		if b.alloc.MapState() == memory.Mapped {
			return newError(op, ErrBufferMapped, nil)
		}
		if err := b.alloc.InvalidateRange(n, 1); err != nil {
			return mapError(op, err)
		}
	}

	view, err := b.Map()
	if err != nil {
		return err
	}
	copy(view, asBytes(data))
	if err := b.alloc.FlushRange(0, n); err != nil {
		_ = b.alloc.Unmap()
		return mapError(op, err)
	}
	return b.Unmap()
}

// Fetch invalidates the buffer and returns a copy of all its elements.
func (b *Buffer[T]) Fetch() ([]T, error) {
	out := make([]T, b.count)
	if err := b.FetchInto(out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchInto is like Fetch but copies into dst, which must hold at least
// Elements() values.
func (b *Buffer[T]) FetchInto(dst []T) error {
	const op = "fetch"
	if len(dst) < b.count {
		return newError(op, ErrBufferOverflow, fmt.Errorf("destination holds %d of %d elements", len(dst), b.count))
	}
	if err := b.Invalidate(); err != nil {
		return err
	}
	view, err := b.Map()
	if err != nil {
		return err
	}
	copy(asBytes(dst[:b.count]), view)
	return b.Unmap()
}

// Destroy releases the buffer's device memory. Kernels that still have the
// buffer bound fail to dispatch until it is rebound. Destroy is idempotent
// and a no-op once the context is destroyed.
func (b *Buffer[T]) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.mu.Unlock()

	// A destroyed context has already released every allocation.
	_ = b.ctx.exclusive("destroy buffer", func() error {
		b.ctx.drainInflight("destroy buffer")
		b.ctx.allocator.Free(b.alloc)
		return nil
	})
}

func mapError(op string, err error) error {
	switch {
	case errors.Is(err, memory.ErrAlreadyMapped):
		return newError(op, ErrBufferMapped, nil)
	case errors.Is(err, memory.ErrNotMapped):
		return newError(op, ErrBufferNotMapped, nil)
	case errors.Is(err, memory.ErrFreed):
		return newError(op, ErrBufferDestroyed, nil)
	default:
		return newError(op, ErrDevice, err)
	}
}

func asBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*int(unsafe.Sizeof(s[0])))
}

func asElements[T Element](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}
