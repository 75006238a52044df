// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/gcl/driver"
)

// Device errors.
var (
	// ErrNoKernel is returned when creating a pipeline for a module without
	// a registered KernelFunc.
	ErrNoKernel = errors.New("soft: no kernel registered for module")

	// ErrValidation is returned for invalid resource descriptions.
	ErrValidation = errors.New("soft: validation failed")
)

type resource struct{ label string }

func (r resource) Label() string { return r.label }

// Buffer is host memory standing in for device memory.
type Buffer struct {
	resource
	handle uintptr
	usage  gputypes.BufferUsage
	data   []byte
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return uint64(len(b.data)) }

// NativeHandle returns the handle used in bind group entries.
func (b *Buffer) NativeHandle() uintptr { return b.handle }

type shaderModule struct {
	resource
	fingerprint uint64
}

type bindGroupLayout struct {
	resource
	entries []gputypes.BindGroupLayoutEntry
}

type boundRange struct {
	buffer *Buffer
	offset uint64
	size   uint64
}

type bindGroup struct {
	resource
	ranges map[uint32]boundRange
}

type pipelineLayout struct {
	resource
	layouts []driver.BindGroupLayout
}

type computePipeline struct {
	resource
	kernel KernelFunc
}

type commandBuffer struct {
	resource
	commands []Command
}

type fence struct {
	resource
	mu    sync.Mutex
	value uint64
}

// Device is a software device.
type Device struct {
	name    string
	journal *Journal
	faults  Faults
	queue   *Queue

	mu          sync.Mutex
	nextHandle  uintptr
	buffers     map[uintptr]*Buffer
	live        int
	submissions int
	last        []Command
	destroyed   bool
}

// Journal returns the event journal of the device's backend.
func (d *Device) Journal() *Journal { return d.journal }

// Submissions returns the number of command buffers submitted.
func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

// LastCommands returns the commands of the most recent submission.
func (d *Device) LastCommands() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.last...)
}

// LiveResources returns the number of created and not yet destroyed
// resources.
func (d *Device) LiveResources() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live
}

func (d *Device) created(kind, label string) {
	d.mu.Lock()
	d.live++
	d.mu.Unlock()
	d.journal.record("create %s %s", kind, label)
}

func (d *Device) release(kind string, r driver.Resource) {
	if r == nil {
		return
	}
	d.mu.Lock()
	d.live--
	d.mu.Unlock()
	d.journal.record("destroy %s %s", kind, r.Label())
}

// Queue returns the device queue.
func (d *Device) Queue() driver.Queue { return d.queue }

// CreateBuffer allocates zeroed host memory.
func (d *Device) CreateBuffer(desc driver.BufferDescriptor) (driver.Buffer, error) {
	if d.faults.CreateBuffer != nil {
		return nil, d.faults.CreateBuffer
	}
	if desc.Size == 0 {
		return nil, fmt.Errorf("%w: buffer %q has zero size", ErrValidation, desc.Label)
	}
	if desc.Usage == 0 {
		return nil, fmt.Errorf("%w: buffer %q has no usage", ErrValidation, desc.Label)
	}
	d.mu.Lock()
	d.nextHandle++
	b := &Buffer{
		resource: resource{desc.Label},
		handle:   d.nextHandle,
		usage:    desc.Usage,
		data:     make([]byte, desc.Size),
	}
	d.buffers[b.handle] = b
	d.mu.Unlock()
	d.created("buffer", desc.Label)
	return b, nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(b driver.Buffer) {
	sb, ok := b.(*Buffer)
	if !ok {
		return
	}
	d.mu.Lock()
	delete(d.buffers, sb.handle)
	d.mu.Unlock()
	d.release("buffer", sb)
}

// CreateShaderModule fingerprints code. The module must be a SPIR-V binary.
func (d *Device) CreateShaderModule(label string, code []uint32) (driver.ShaderModule, error) {
	if d.faults.CreateShaderModule != nil {
		return nil, d.faults.CreateShaderModule
	}
	if len(code) == 0 || code[0] != spirv.MagicNumber {
		return nil, fmt.Errorf("%w: shader module %q is not SPIR-V", ErrValidation, label)
	}
	m := &shaderModule{resource: resource{label}, fingerprint: Fingerprint(code)}
	d.created("shader-module", label)
	return m, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(m driver.ShaderModule) { d.release("shader-module", m) }

// CreateBindGroupLayout validates that every entry is a compute-visible
// buffer binding.
func (d *Device) CreateBindGroupLayout(label string, entries []gputypes.BindGroupLayoutEntry) (driver.BindGroupLayout, error) {
	if d.faults.CreateBindGroupLayout != nil {
		return nil, d.faults.CreateBindGroupLayout
	}
	seen := make(map[uint32]bool, len(entries))
	for _, e := range entries {
		if e.Buffer == nil {
			return nil, fmt.Errorf("%w: layout %q binding %d is not a buffer", ErrValidation, label, e.Binding)
		}
		if e.Visibility&gputypes.ShaderStageCompute == 0 {
			return nil, fmt.Errorf("%w: layout %q binding %d is not visible to compute", ErrValidation, label, e.Binding)
		}
		if seen[e.Binding] {
			return nil, fmt.Errorf("%w: layout %q binding %d declared twice", ErrValidation, label, e.Binding)
		}
		seen[e.Binding] = true
	}
	l := &bindGroupLayout{resource: resource{label}, entries: append([]gputypes.BindGroupLayoutEntry(nil), entries...)}
	d.created("bind-group-layout", label)
	return l, nil
}

// DestroyBindGroupLayout releases a layout.
func (d *Device) DestroyBindGroupLayout(l driver.BindGroupLayout) {
	d.release("bind-group-layout", l)
}

// CreateBindGroup validates entries against layout: every layout binding
// must be supplied with a live buffer range.
func (d *Device) CreateBindGroup(label string, layout driver.BindGroupLayout, entries []gputypes.BindGroupEntry) (driver.BindGroup, error) {
	if d.faults.CreateBindGroup != nil {
		return nil, d.faults.CreateBindGroup
	}
	l, ok := layout.(*bindGroupLayout)
	if !ok {
		return nil, fmt.Errorf("%w: bind group %q layout", driver.ErrInvalidResource, label)
	}
	g := &bindGroup{resource: resource{label}, ranges: make(map[uint32]boundRange, len(entries))}
	for _, e := range entries {
		bb, ok := e.Resource.(gputypes.BufferBinding)
		if !ok {
			return nil, fmt.Errorf("%w: bind group %q binding %d is not a buffer", ErrValidation, label, e.Binding)
		}
		d.mu.Lock()
		buf, ok := d.buffers[bb.Buffer]
		d.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: bind group %q binding %d buffer", driver.ErrInvalidResource, label, e.Binding)
		}
		size := bb.Size
		if size == 0 {
			size = buf.Size() - bb.Offset
		}
		if bb.Offset+size > buf.Size() {
			return nil, fmt.Errorf("%w: bind group %q binding %d range exceeds buffer", ErrValidation, label, e.Binding)
		}
		g.ranges[e.Binding] = boundRange{buffer: buf, offset: bb.Offset, size: size}
	}
	for _, le := range l.entries {
		if _, ok := g.ranges[le.Binding]; !ok {
			return nil, fmt.Errorf("%w: bind group %q is missing binding %d", ErrValidation, label, le.Binding)
		}
	}
	if len(g.ranges) != len(l.entries) {
		return nil, fmt.Errorf("%w: bind group %q has bindings not in its layout", ErrValidation, label)
	}
	d.created("bind-group", label)
	return g, nil
}

// DestroyBindGroup releases a bind group.
func (d *Device) DestroyBindGroup(g driver.BindGroup) { d.release("bind-group", g) }

// CreatePipelineLayout records layouts.
func (d *Device) CreatePipelineLayout(label string, layouts []driver.BindGroupLayout) (driver.PipelineLayout, error) {
	l := &pipelineLayout{resource: resource{label}, layouts: append([]driver.BindGroupLayout(nil), layouts...)}
	d.created("pipeline-layout", label)
	return l, nil
}

// DestroyPipelineLayout releases a pipeline layout.
func (d *Device) DestroyPipelineLayout(l driver.PipelineLayout) { d.release("pipeline-layout", l) }

// CreateComputePipeline resolves the module's registered KernelFunc.
func (d *Device) CreateComputePipeline(label string, layout driver.PipelineLayout, module driver.ShaderModule, entryPoint string) (driver.ComputePipeline, error) {
	if d.faults.CreatePipeline != nil {
		return nil, d.faults.CreatePipeline
	}
	m, ok := module.(*shaderModule)
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %q module", driver.ErrInvalidResource, label)
	}
	if _, ok := layout.(*pipelineLayout); !ok {
		return nil, fmt.Errorf("%w: pipeline %q layout", driver.ErrInvalidResource, label)
	}
	if entryPoint == "" {
		return nil, fmt.Errorf("%w: pipeline %q has no entry point", ErrValidation, label)
	}
	fn, ok := lookupKernel(m.fingerprint)
	if !ok {
		return nil, fmt.Errorf("%w: %q (fingerprint %016x)", ErrNoKernel, m.label, m.fingerprint)
	}
	p := &computePipeline{resource: resource{label}, kernel: fn}
	d.created("compute-pipeline", label)
	return p, nil
}

// DestroyComputePipeline releases a pipeline.
func (d *Device) DestroyComputePipeline(p driver.ComputePipeline) {
	d.release("compute-pipeline", p)
}

// CreateCommandEncoder creates a reusable encoder.
func (d *Device) CreateCommandEncoder(label string) (driver.CommandEncoder, error) {
	if d.faults.CreateEncoder != nil {
		return nil, d.faults.CreateEncoder
	}
	e := &CommandEncoder{resource: resource{label}}
	d.created("command-encoder", label)
	return e, nil
}

// DestroyCommandEncoder releases an encoder.
func (d *Device) DestroyCommandEncoder(e driver.CommandEncoder) {
	d.release("command-encoder", e)
}

// FreeCommandBuffer releases a finished recording. Command buffers are not
// journaled.
func (d *Device) FreeCommandBuffer(driver.CommandBuffer) {}

// CreateFence creates a fence at value 0.
func (d *Device) CreateFence() (driver.Fence, error) {
	if d.faults.CreateFence != nil {
		return nil, d.faults.CreateFence
	}
	f := &fence{resource: resource{"fence"}}
	d.created("fence", f.label)
	return f, nil
}

// DestroyFence releases a fence.
func (d *Device) DestroyFence(f driver.Fence) { d.release("fence", f) }

// hangPoll bounds how long Wait sleeps on a fence that will not signal.
const hangPoll = 5 * time.Millisecond

// Wait reports whether f has reached value. Work executes synchronously on
// Submit, so an unsignaled fence only waits out a short poll interval.
func (d *Device) Wait(f driver.Fence, value uint64, timeout time.Duration) (bool, error) {
	sf, ok := f.(*fence)
	if !ok {
		return false, fmt.Errorf("%w: fence", driver.ErrInvalidResource)
	}
	sf.mu.Lock()
	reached := sf.value >= value
	sf.mu.Unlock()
	if reached {
		return true, nil
	}
	time.Sleep(min(timeout, hangPoll))
	return false, nil
}

// WaitIdle returns immediately: no work is ever in flight after Submit.
func (d *Device) WaitIdle() error {
	d.journal.record("wait idle")
	return nil
}

// Destroy releases the device.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	live := d.live
	d.mu.Unlock()
	if live > 0 {
		driver.Logger().Warn("soft: device destroyed with live resources", "count", live)
	}
	d.journal.record("destroy device %s", d.name)
}
