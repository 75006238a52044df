//go:build !nogpu

package native

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gcl/driver"
)

type queue struct {
	device *device
	raw    hal.Queue
}

func (q *queue) Submit(cb driver.CommandBuffer, f driver.Fence, value uint64) error {
	nf, ok := f.(*fence)
	if !ok {
		return fmt.Errorf("%w: fence", driver.ErrInvalidResource)
	}
	var cmds []hal.CommandBuffer
	if nc, ok := cb.(*commandBuffer); ok {
		cmds = []hal.CommandBuffer{nc.raw}
	}
	if err := q.raw.Submit(cmds, nf.raw, value); err != nil {
		return fmt.Errorf("native: submit: %w", err)
	}
	return nil
}

func (q *queue) WriteBuffer(b driver.Buffer, offset uint64, data []byte) error {
	nb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("%w: buffer", driver.ErrInvalidResource)
	}
	if len(data) == 0 {
		return nil
	}
	q.raw.WriteBuffer(nb.raw, offset, data)
	return nil
}

// ReadBuffer copies the range into the buffer's staging buffer, waits for
// the copy on a private fence and reads the staging memory.
func (q *queue) ReadBuffer(b driver.Buffer, offset uint64, dst []byte) error {
	nb, ok := b.(*buffer)
	if !ok {
		return fmt.Errorf("%w: buffer", driver.ErrInvalidResource)
	}
	size := uint64(len(dst))
	if size == 0 {
		return nil
	}
	dev := q.device.raw

	nb.mu.Lock()
	defer nb.mu.Unlock()

	if nb.staging == nil {
		staging, err := dev.CreateBuffer(&hal.BufferDescriptor{
			Label: nb.label + "_staging",
			Size:  nb.size,
			Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("native: create staging buffer: %w", err)
		}
		nb.staging = staging
	}

	encoder, err := dev.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "gcl_readback"})
	if err != nil {
		return fmt.Errorf("native: create readback encoder: %w", err)
	}
	if err := encoder.BeginEncoding("gcl_readback"); err != nil {
		return fmt.Errorf("native: begin readback: %w", err)
	}
	encoder.CopyBufferToBuffer(nb.raw, nb.staging, []hal.BufferCopy{
		{SrcOffset: offset, DstOffset: 0, Size: size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("native: end readback: %w", err)
	}
	defer dev.FreeCommandBuffer(cmdBuf)

	f, err := dev.CreateFence()
	if err != nil {
		return fmt.Errorf("native: create readback fence: %w", err)
	}
	defer dev.DestroyFence(f)
	if err := q.raw.Submit([]hal.CommandBuffer{cmdBuf}, f, 1); err != nil {
		return fmt.Errorf("native: submit readback: %w", err)
	}
	err = waitFence("readback", func(timeout time.Duration) (bool, error) {
		return dev.Wait(f, 1, timeout)
	})
	if err != nil {
		return fmt.Errorf("native: wait for readback: %w", err)
	}
	if err := q.raw.ReadBuffer(nb.staging, 0, dst); err != nil {
		return fmt.Errorf("native: readback: %w", err)
	}
	return nil
}
