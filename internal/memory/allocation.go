package memory

import (
	"fmt"
	"sync"

	"github.com/gogpu/gcl/driver"
)

// MapState represents the mapping state of an allocation.
type MapState int

const (
	// Unmapped means the host view is not handed out.
	Unmapped MapState = iota
	// Mapped means the host view is handed out.
	Mapped
)

// String returns the string representation of MapState.
func (s MapState) String() string {
	switch s {
	case Unmapped:
		return "Unmapped"
	case Mapped:
		return "Mapped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Allocation is one device buffer plus its host shadow.
type Allocation struct {
	mu sync.Mutex

	allocator *Allocator
	buffer    driver.Buffer
	label     string
	size      uint64
	host      []byte
	mapped    bool
	freed     bool
}

// Label returns the debug label.
func (al *Allocation) Label() string { return al.label }

// Size returns the requested size in bytes.
func (al *Allocation) Size() uint64 { return al.size }

// Buffer returns the device buffer, or nil once freed.
func (al *Allocation) Buffer() driver.Buffer {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.buffer
}

// MapState returns the current mapping state.
func (al *Allocation) MapState() MapState {
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.mapped {
		return Mapped
	}
	return Unmapped
}

// Freed reports whether the allocation has been freed.
func (al *Allocation) Freed() bool {
	al.mu.Lock()
	defer al.mu.Unlock()
	return al.freed
}

// Map returns the host view of the allocation. The view stays valid until
// Unmap; device results become visible in it only after Invalidate.
func (al *Allocation) Map() ([]byte, error) {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.freed {
		return nil, ErrFreed
	}
	if al.mapped {
		return nil, ErrAlreadyMapped
	}
	al.mapped = true
	return al.host[:al.size:al.size], nil
}

// Unmap returns the host view.
func (al *Allocation) Unmap() error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.freed {
		return ErrFreed
	}
	if !al.mapped {
		return ErrNotMapped
	}
	al.mapped = false
	return nil
}

// Flush publishes the whole host view to the device.
func (al *Allocation) Flush() error {
	return al.FlushRange(0, al.size)
}

// FlushRange publishes bytes [offset, offset+size) of the host view. The
// range is widened to Alignment, so the bytes sharing its first and last
// word are written too.
func (al *Allocation) FlushRange(offset, size uint64) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.freed {
		return ErrFreed
	}
	lo, hi, err := al.span(offset, size)
	if err != nil || lo == hi {
		return err
	}
	if err := al.allocator.queue.WriteBuffer(al.buffer, lo, al.host[lo:hi]); err != nil {
		return fmt.Errorf("memory: flush %q: %w", al.label, err)
	}
	return nil
}

// Invalidate refreshes the whole host view from the device.
func (al *Allocation) Invalidate() error {
	return al.InvalidateRange(0, al.size)
}

// InvalidateRange refreshes bytes [offset, offset+size) of the host view,
// widened to Alignment.
func (al *Allocation) InvalidateRange(offset, size uint64) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	if al.freed {
		return ErrFreed
	}
	lo, hi, err := al.span(offset, size)
	if err != nil || lo == hi {
		return err
	}
	if err := al.allocator.queue.ReadBuffer(al.buffer, lo, al.host[lo:hi]); err != nil {
		return fmt.Errorf("memory: invalidate %q: %w", al.label, err)
	}
	return nil
}

// span aligns [offset, offset+size) outward to Alignment. The device buffer
// is itself aligned, so the widened range never leaves it.
func (al *Allocation) span(offset, size uint64) (lo, hi uint64, err error) {
	if offset > al.size || size > al.size-offset {
		return 0, 0, fmt.Errorf("%w: [%d, %d) of %d bytes", ErrOutOfRange, offset, offset+size, al.size)
	}
	if size == 0 {
		return 0, 0, nil
	}
	lo = offset &^ (Alignment - 1)
	hi = (offset + size + Alignment - 1) &^ (Alignment - 1)
	return lo, hi, nil
}

// Free releases the allocation through its allocator.
func (al *Allocation) Free() {
	al.allocator.Free(al)
}
