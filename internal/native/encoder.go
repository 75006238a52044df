//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gcl/driver"
)

var errNotRecording = errors.New("native: encoder is not recording")

// commandEncoder records a single compute pass per recording.
type commandEncoder struct {
	label     string
	raw       hal.CommandEncoder
	pass      hal.ComputePassEncoder
	recording bool
}

func (e *commandEncoder) Label() string { return e.label }

func (e *commandEncoder) BeginEncoding(label string) error {
	if err := e.raw.BeginEncoding(label); err != nil {
		return fmt.Errorf("native: begin encoding: %w", err)
	}
	e.recording = true
	e.pass = e.raw.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	return nil
}

func (e *commandEncoder) SetPipeline(p driver.ComputePipeline) {
	if np, ok := p.(*computePipeline); ok && e.pass != nil {
		e.pass.SetPipeline(np.raw)
	}
}

func (e *commandEncoder) SetBindGroup(index uint32, g driver.BindGroup) {
	if ng, ok := g.(*bindGroup); ok && e.pass != nil {
		e.pass.SetBindGroup(index, ng.raw, nil)
	}
}

func (e *commandEncoder) Dispatch(x, y, z uint32) {
	if e.pass != nil {
		e.pass.Dispatch(x, y, z)
	}
}

func (e *commandEncoder) EndEncoding() (driver.CommandBuffer, error) {
	if !e.recording {
		return nil, errNotRecording
	}
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
	e.recording = false
	raw, err := e.raw.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("native: end encoding: %w", err)
	}
	return &commandBuffer{label: e.label, raw: raw}, nil
}

func (e *commandEncoder) DiscardEncoding() {
	if e.pass != nil {
		e.pass.End()
		e.pass = nil
	}
	if e.recording {
		e.raw.DiscardEncoding()
		e.recording = false
	}
}
