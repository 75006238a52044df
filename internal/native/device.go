// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gcl/driver"
)

// idleSlice is how long a single WaitIdle or readback fence wait blocks
// before a warning is logged and the wait resumes.
const idleSlice = 5 * time.Second

type buffer struct {
	label string
	raw   hal.Buffer
	size  uint64

	mu      sync.Mutex
	staging hal.Buffer // lazily created readback buffer
}

func (b *buffer) Label() string         { return b.label }
func (b *buffer) Size() uint64          { return b.size }
func (b *buffer) NativeHandle() uintptr { return b.raw.NativeHandle() }

type shaderModule struct {
	label string
	raw   hal.ShaderModule
}

func (m *shaderModule) Label() string { return m.label }

type bindGroupLayout struct {
	label string
	raw   hal.BindGroupLayout
}

func (l *bindGroupLayout) Label() string { return l.label }

type bindGroup struct {
	label string
	raw   hal.BindGroup
}

func (g *bindGroup) Label() string { return g.label }

type pipelineLayout struct {
	label string
	raw   hal.PipelineLayout
}

func (l *pipelineLayout) Label() string { return l.label }

type computePipeline struct {
	label string
	raw   hal.ComputePipeline
}

func (p *computePipeline) Label() string { return p.label }

type commandBuffer struct {
	label string
	raw   hal.CommandBuffer
}

func (c *commandBuffer) Label() string { return c.label }

type fence struct {
	raw hal.Fence
}

func (f *fence) Label() string { return "fence" }

// device adapts hal.Device and hal.Queue to driver.Device.
type device struct {
	raw   hal.Device
	queue *queue
	owned bool
}

func newDevice(raw hal.Device, q hal.Queue, owned bool) *device {
	d := &device{raw: raw, owned: owned}
	d.queue = &queue{device: d, raw: q}
	return d
}

func (d *device) Queue() driver.Queue { return d.queue }

func (d *device) CreateBuffer(desc driver.BufferDescriptor) (driver.Buffer, error) {
	raw, err := d.raw.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create buffer %q: %w", desc.Label, err)
	}
	return &buffer{label: desc.Label, raw: raw, size: desc.Size}, nil
}

func (d *device) DestroyBuffer(b driver.Buffer) {
	nb, ok := b.(*buffer)
	if !ok {
		return
	}
	nb.mu.Lock()
	if nb.staging != nil {
		d.raw.DestroyBuffer(nb.staging)
		nb.staging = nil
	}
	nb.mu.Unlock()
	d.raw.DestroyBuffer(nb.raw)
}

func (d *device) CreateShaderModule(label string, code []uint32) (driver.ShaderModule, error) {
	raw, err := d.raw.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  label,
		Source: hal.ShaderSource{SPIRV: code},
	})
	if err != nil {
		return nil, fmt.Errorf("native: create shader module %q: %w", label, err)
	}
	return &shaderModule{label: label, raw: raw}, nil
}

func (d *device) DestroyShaderModule(m driver.ShaderModule) {
	if nm, ok := m.(*shaderModule); ok {
		d.raw.DestroyShaderModule(nm.raw)
	}
}

func (d *device) CreateBindGroupLayout(label string, entries []gputypes.BindGroupLayoutEntry) (driver.BindGroupLayout, error) {
	raw, err := d.raw.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create bind group layout %q: %w", label, err)
	}
	return &bindGroupLayout{label: label, raw: raw}, nil
}

func (d *device) DestroyBindGroupLayout(l driver.BindGroupLayout) {
	if nl, ok := l.(*bindGroupLayout); ok {
		d.raw.DestroyBindGroupLayout(nl.raw)
	}
}

func (d *device) CreateBindGroup(label string, layout driver.BindGroupLayout, entries []gputypes.BindGroupEntry) (driver.BindGroup, error) {
	nl, ok := layout.(*bindGroupLayout)
	if !ok {
		return nil, fmt.Errorf("%w: bind group %q layout", driver.ErrInvalidResource, label)
	}
	raw, err := d.raw.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  nl.raw,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create bind group %q: %w", label, err)
	}
	return &bindGroup{label: label, raw: raw}, nil
}

func (d *device) DestroyBindGroup(g driver.BindGroup) {
	if ng, ok := g.(*bindGroup); ok {
		d.raw.DestroyBindGroup(ng.raw)
	}
}

func (d *device) CreatePipelineLayout(label string, layouts []driver.BindGroupLayout) (driver.PipelineLayout, error) {
	raws := make([]hal.BindGroupLayout, 0, len(layouts))
	for _, l := range layouts {
		nl, ok := l.(*bindGroupLayout)
		if !ok {
			return nil, fmt.Errorf("%w: pipeline layout %q", driver.ErrInvalidResource, label)
		}
		raws = append(raws, nl.raw)
	}
	raw, err := d.raw.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: raws,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create pipeline layout %q: %w", label, err)
	}
	return &pipelineLayout{label: label, raw: raw}, nil
}

func (d *device) DestroyPipelineLayout(l driver.PipelineLayout) {
	if nl, ok := l.(*pipelineLayout); ok {
		d.raw.DestroyPipelineLayout(nl.raw)
	}
}

func (d *device) CreateComputePipeline(label string, layout driver.PipelineLayout, module driver.ShaderModule, entryPoint string) (driver.ComputePipeline, error) {
	nl, ok := layout.(*pipelineLayout)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %q layout", driver.ErrInvalidResource, label)
	}
	nm, ok := module.(*shaderModule)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %q module", driver.ErrInvalidResource, label)
	}
	raw, err := d.raw.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:   label,
		Layout:  nl.raw,
		Compute: hal.ComputeState{Module: nm.raw, EntryPoint: entryPoint},
	})
	if err != nil {
		return nil, fmt.Errorf("native: create compute pipeline %q: %w", label, err)
	}
	return &computePipeline{label: label, raw: raw}, nil
}

func (d *device) DestroyComputePipeline(p driver.ComputePipeline) {
	if np, ok := p.(*computePipeline); ok {
		d.raw.DestroyComputePipeline(np.raw)
	}
}

func (d *device) CreateCommandEncoder(label string) (driver.CommandEncoder, error) {
	raw, err := d.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder %q: %w", label, err)
	}
	return &commandEncoder{label: label, raw: raw}, nil
}

// DestroyCommandEncoder discards any open recording. HAL encoders are
// released with the device.
func (d *device) DestroyCommandEncoder(e driver.CommandEncoder) {
	if ne, ok := e.(*commandEncoder); ok && ne.recording {
		ne.DiscardEncoding()
	}
}

func (d *device) FreeCommandBuffer(cb driver.CommandBuffer) {
	if nc, ok := cb.(*commandBuffer); ok {
		d.raw.FreeCommandBuffer(nc.raw)
	}
}

func (d *device) CreateFence() (driver.Fence, error) {
	raw, err := d.raw.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("native: create fence: %w", err)
	}
	return &fence{raw: raw}, nil
}

func (d *device) DestroyFence(f driver.Fence) {
	if nf, ok := f.(*fence); ok {
		d.raw.DestroyFence(nf.raw)
	}
}

func (d *device) Wait(f driver.Fence, value uint64, timeout time.Duration) (bool, error) {
	nf, ok := f.(*fence)
	if !ok {
		return false, fmt.Errorf("%w: fence", driver.ErrInvalidResource)
	}
	return d.raw.Wait(nf.raw, value, timeout)
}

// WaitIdle submits an empty batch with a fresh fence and waits for it
// without a deadline.
func (d *device) WaitIdle() error {
	f, err := d.raw.CreateFence()
	if err != nil {
		return fmt.Errorf("native: wait idle: %w", err)
	}
	defer d.raw.DestroyFence(f)

	if err := d.queue.raw.Submit(nil, f, 1); err != nil {
		return fmt.Errorf("native: wait idle: %w", err)
	}
	err = waitFence("wait idle", func(timeout time.Duration) (bool, error) {
		return d.raw.Wait(f, 1, timeout)
	})
	if err != nil {
		return fmt.Errorf("native: wait idle: %w", err)
	}
	return nil
}

// waitFence calls wait in slices of idleSlice until it reports the fence
// signaled or fails. It never gives up on its own.
func waitFence(what string, wait func(time.Duration) (bool, error)) error {
	start := time.Now()
	for {
		done, err := wait(idleSlice)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		driver.Logger().Warn("native: fence not signaled yet", "wait", what, "elapsed", time.Since(start))
	}
}

func (d *device) Destroy() {
	if !d.owned {
		return
	}
	d.raw.Destroy()
}
