package soft

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gcl/driver"
)

// ErrOutOfRange is returned for transfers outside a buffer.
var ErrOutOfRange = errors.New("soft: transfer out of range")

// Queue executes submissions synchronously.
type Queue struct {
	mu     sync.Mutex
	device *Device
}

// Submit runs the recorded commands and then signals fence with value.
// With Faults.Hang set the commands run but the fence is never signaled.
func (q *Queue) Submit(cb driver.CommandBuffer, f driver.Fence, value uint64) error {
	d := q.device
	if d.faults.Submit != nil {
		return d.faults.Submit
	}
	var commands []Command
	if cb != nil {
		scb, ok := cb.(*commandBuffer)
		if !ok {
			return fmt.Errorf("%w: command buffer", driver.ErrInvalidResource)
		}
		commands = scb.commands
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := execute(commands); err != nil {
		return err
	}

	d.mu.Lock()
	d.submissions++
	d.last = commands
	d.mu.Unlock()

	if f != nil && !d.faults.Hang {
		sf, ok := f.(*fence)
		if !ok {
			return fmt.Errorf("%w: fence", driver.ErrInvalidResource)
		}
		sf.mu.Lock()
		sf.value = max(sf.value, value)
		sf.mu.Unlock()
	}
	return nil
}

func execute(commands []Command) error {
	var pipeline *computePipeline
	groups := make(map[uint32]*bindGroup)
	for _, c := range commands {
		switch c.Kind {
		case CmdSetPipeline:
			pipeline = c.pipeline
		case CmdSetBindGroup:
			groups[c.Index] = c.bindGroup
		case CmdDispatch:
			if pipeline == nil {
				return fmt.Errorf("%w: dispatch without pipeline", ErrEncoderState)
			}
			inv := Invocation{Groups: c.Groups, Buffers: make(map[uint32][]byte)}
			if g := groups[0]; g != nil {
				for binding, r := range g.ranges {
					inv.Buffers[binding] = r.buffer.data[r.offset : r.offset+r.size]
				}
			}
			pipeline.kernel(inv)
		}
	}
	return nil
}

// WriteBuffer copies data into b.
func (q *Queue) WriteBuffer(b driver.Buffer, offset uint64, data []byte) error {
	sb, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("%w: buffer", driver.ErrInvalidResource)
	}
	if offset+uint64(len(data)) > sb.Size() {
		return fmt.Errorf("%w: write %d bytes at %d into %d", ErrOutOfRange, len(data), offset, sb.Size())
	}
	q.mu.Lock()
	copy(sb.data[offset:], data)
	q.mu.Unlock()
	return nil
}

// ReadBuffer copies len(dst) bytes out of b.
func (q *Queue) ReadBuffer(b driver.Buffer, offset uint64, dst []byte) error {
	sb, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("%w: buffer", driver.ErrInvalidResource)
	}
	if offset+uint64(len(dst)) > sb.Size() {
		return fmt.Errorf("%w: read %d bytes at %d from %d", ErrOutOfRange, len(dst), offset, sb.Size())
	}
	q.mu.Lock()
	copy(dst, sb.data[offset:])
	q.mu.Unlock()
	return nil
}
