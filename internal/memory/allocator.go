// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package memory allocates host-visible device buffers and tracks them
// against a memory budget.
//
// Every allocation pairs a device buffer with a host shadow. The shadow is
// what Map exposes; Flush publishes it to the device and Invalidate refreshes
// it from the device. This mirrors non-coherent host-visible memory: writes
// are invisible to kernels until flushed, and kernel results are invisible
// to the host until invalidated.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gcl/driver"
)

// Allocator errors.
var (
	// ErrBudgetExceeded is returned when an allocation would exceed the budget.
	ErrBudgetExceeded = errors.New("memory: budget exceeded")

	// ErrAllocatorClosed is returned when operating on a closed allocator.
	ErrAllocatorClosed = errors.New("memory: allocator closed")

	// ErrInvalidSize is returned for zero-sized allocations.
	ErrInvalidSize = errors.New("memory: invalid allocation size")

	// ErrFreed is returned when operating on a freed allocation.
	ErrFreed = errors.New("memory: allocation has been freed")

	// ErrAlreadyMapped is returned when mapping an already mapped allocation.
	ErrAlreadyMapped = errors.New("memory: allocation is already mapped")

	// ErrNotMapped is returned when unmapping an allocation that is not mapped.
	ErrNotMapped = errors.New("memory: allocation is not mapped")

	// ErrOutOfRange is returned for a flush or invalidate range outside the
	// allocation.
	ErrOutOfRange = errors.New("memory: range out of bounds")
)

// Alignment is the granularity of device buffer sizes. Queue writes and
// copies operate on multiples of 4 bytes.
const Alignment = 4

// Usage is the usage every allocation is created with: bindable as storage
// or uniform and usable as a copy source and destination.
const Usage = gputypes.BufferUsageStorage | gputypes.BufferUsageUniform |
	gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

// Stats contains allocator usage statistics.
type Stats struct {
	// BudgetBytes is the memory budget in bytes; 0 means unlimited.
	BudgetBytes uint64

	// UsedBytes is the currently allocated device memory in bytes.
	UsedBytes uint64

	// PeakBytes is the highest UsedBytes observed.
	PeakBytes uint64

	// AvailableBytes is the remaining budget; 0 when unlimited.
	AvailableBytes uint64

	// Allocations is the number of live allocations.
	Allocations int

	// TotalAllocations counts every successful allocation.
	TotalAllocations uint64

	// Utilization is the fraction of budget used (0.0 to 1.0); 0 when unlimited.
	Utilization float64
}

// String returns a human-readable string of the stats.
func (s Stats) String() string {
	if s.BudgetBytes == 0 {
		return fmt.Sprintf("Memory[%d KiB used, peak %d KiB, %d allocations]",
			s.UsedBytes/1024, s.PeakBytes/1024, s.Allocations)
	}
	return fmt.Sprintf("Memory[%.1f%% used, %d/%d KiB, peak %d KiB, %d allocations]",
		s.Utilization*100, s.UsedBytes/1024, s.BudgetBytes/1024, s.PeakBytes/1024, s.Allocations)
}

// Config holds configuration for creating an Allocator.
type Config struct {
	// BudgetMB is the memory budget in megabytes. Zero or negative means
	// unlimited.
	BudgetMB int
}

// Allocator creates and tracks device buffers.
//
// Allocator is safe for concurrent use.
type Allocator struct {
	mu sync.RWMutex

	device driver.Device
	queue  driver.Queue

	budgetBytes uint64
	usedBytes   uint64
	peakBytes   uint64
	total       uint64

	allocations map[*Allocation]struct{}
	closed      bool
}

// New creates an allocator for device.
func New(device driver.Device, config Config) *Allocator {
	a := &Allocator{
		device:      device,
		queue:       device.Queue(),
		allocations: make(map[*Allocation]struct{}),
	}
	if config.BudgetMB > 0 {
		a.budgetBytes = uint64(config.BudgetMB) * 1024 * 1024
	}
	return a
}

// Allocate creates a buffer of size bytes. The device buffer is rounded up
// to Alignment; the host view is exactly size bytes.
func (a *Allocator) Allocate(label string, size uint64) (*Allocation, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}
	aligned := (size + Alignment - 1) &^ (Alignment - 1)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrAllocatorClosed
	}
	if a.budgetBytes > 0 && a.usedBytes+aligned > a.budgetBytes {
		return nil, fmt.Errorf("%w: need %d bytes, have %d bytes available",
			ErrBudgetExceeded, aligned, a.budgetBytes-min(a.usedBytes, a.budgetBytes))
	}

	buf, err := a.device.CreateBuffer(driver.BufferDescriptor{
		Label: label,
		Size:  aligned,
		Usage: Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: create buffer %q: %w", label, err)
	}

	al := &Allocation{
		allocator: a,
		buffer:    buf,
		label:     label,
		size:      size,
		host:      make([]byte, aligned),
	}
	a.allocations[al] = struct{}{}
	a.usedBytes += aligned
	a.peakBytes = max(a.peakBytes, a.usedBytes)
	a.total++

	driver.Logger().Debug("memory: allocated", "label", label, "bytes", aligned)
	return al, nil
}

// Free releases an allocation. Freeing twice or freeing an allocation of
// another allocator is a no-op.
func (a *Allocator) Free(al *Allocation) {
	if al == nil {
		return
	}
	a.mu.Lock()
	if _, ok := a.allocations[al]; !ok {
		a.mu.Unlock()
		return
	}
	a.removeLocked(al)
	a.mu.Unlock()
}

// removeLocked destroys al's buffer and drops it from tracking. Caller must
// hold mu.
func (a *Allocator) removeLocked(al *Allocation) {
	delete(a.allocations, al)
	a.usedBytes -= uint64(len(al.host))

	al.mu.Lock()
	al.freed = true
	al.mapped = false
	buf := al.buffer
	al.buffer = nil
	al.host = nil
	al.mu.Unlock()

	a.device.DestroyBuffer(buf)
}

// Stats returns current memory usage statistics.
func (a *Allocator) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Stats{
		BudgetBytes:      a.budgetBytes,
		UsedBytes:        a.usedBytes,
		PeakBytes:        a.peakBytes,
		Allocations:      len(a.allocations),
		TotalAllocations: a.total,
	}
	if a.budgetBytes > 0 {
		s.AvailableBytes = a.budgetBytes - min(a.usedBytes, a.budgetBytes)
		s.Utilization = float64(a.usedBytes) / float64(a.budgetBytes)
	}
	return s
}

// SetBudget updates the memory budget. Zero or negative means unlimited.
// Lowering the budget below current usage does not free anything; later
// allocations fail until usage drops.
func (a *Allocator) SetBudget(megabytes int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAllocatorClosed
	}
	if megabytes <= 0 {
		a.budgetBytes = 0
		return nil
	}
	a.budgetBytes = uint64(megabytes) * 1024 * 1024
	return nil
}

// Contains returns true if al is a live allocation of this allocator.
func (a *Allocator) Contains(al *Allocation) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.allocations[al]
	return ok
}

// Close frees all live allocations. The allocator cannot be used afterwards.
// Close returns the number of allocations that were still live.
func (a *Allocator) Close() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0
	}
	leaked := len(a.allocations)
	for al := range a.allocations {
		a.removeLocked(al)
	}
	a.closed = true
	if leaked > 0 {
		driver.Logger().Warn("memory: allocator closed with live allocations", "count", leaked)
	}
	return leaked
}
