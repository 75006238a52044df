// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gcl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gcl/driver"
	"github.com/gogpu/gcl/internal/memory"
	"github.com/gogpu/gcl/internal/spirv"
)

// Binding describes one descriptor binding a kernel declares.
type Binding = spirv.Binding

// ResourceKind is the descriptor type of a binding.
type ResourceKind = spirv.ResourceKind

// Binding kinds a kernel may declare.
const (
	UniformBuffer         = spirv.UniformBuffer
	StorageBuffer         = spirv.StorageBuffer
	ReadOnlyStorageBuffer = spirv.ReadOnlyStorageBuffer
)

// KernelOption configures kernel creation.
type KernelOption func(*kernelConfig)

type kernelConfig struct {
	entryPoint string
	label      string
}

// WithEntryPoint selects the compute entry point by name. By default the
// first compute entry point of the module is used.
func WithEntryPoint(name string) KernelOption {
	return func(c *kernelConfig) { c.entryPoint = name }
}

// WithKernelLabel overrides the debug label of the kernel's device objects.
func WithKernelLabel(label string) KernelOption {
	return func(c *kernelConfig) { c.label = label }
}

// Kernel is a compute pipeline built from one entry point of a SPIR-V
// module, with a bind group laid out from the module's own declarations.
//
// Only descriptor set 0 is supported, and every binding must be a single
// uniform or storage buffer.
type Kernel struct {
	ctx        *Context
	label      string
	entryPoint string
	workgroup  [3]uint32
	bindings   []Binding

	module         driver.ShaderModule
	layout         driver.BindGroupLayout
	pipelineLayout driver.PipelineLayout
	pipeline       driver.ComputePipeline

	mu        sync.Mutex
	pool      map[ResourceKind]uint32
	group     driver.BindGroup
	bound     map[uint32]*memory.Allocation
	destroyed bool
}

// NewKernel loads a kernel from a file. Files ending in .wgsl are compiled
// with naga; anything else must be a SPIR-V binary.
//
// Example:
//
//	k, err := gcl.NewKernel(ctx, "shaders/add.spv")
//	if errors.Is(err, gcl.ErrNotFound) {
//	    ...
//	}
func NewKernel(ctx *Context, path string, opts ...KernelOption) (*Kernel, error) {
	const op = "new kernel"

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(op, ErrNotFound, err)
		}
		return nil, newError(op, ErrIO, err)
	}

	label := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	opts = append([]KernelOption{WithKernelLabel(label)}, opts...)

	if strings.EqualFold(filepath.Ext(path), ".wgsl") {
		return NewKernelFromWGSL(ctx, string(data), opts...)
	}
	code, err := spirv.Words(data)
	if err != nil {
		return nil, newError(op, ErrReflection, fmt.Errorf("%s: %w", path, err))
	}
	return newKernel(ctx, op, code, opts)
}

// NewKernelFromSPIRV builds a kernel from SPIR-V words.
func NewKernelFromSPIRV(ctx *Context, code []uint32, opts ...KernelOption) (*Kernel, error) {
	return newKernel(ctx, "new kernel", code, opts)
}

// NewKernelFromWGSL compiles WGSL source with naga and builds a kernel
// from the result.
func NewKernelFromWGSL(ctx *Context, source string, opts ...KernelOption) (*Kernel, error) {
	const op = "new kernel"

	code, err := spirv.CompileWGSL(source)
	if err != nil {
		return nil, newError(op, ErrPipeline, err)
	}
	return newKernel(ctx, op, code, opts)
}

func newKernel(ctx *Context, op string, code []uint32, opts []KernelOption) (*Kernel, error) {
	if err := ctx.alive(op); err != nil {
		return nil, err
	}

	cfg := kernelConfig{label: "kernel"}
	for _, opt := range opts {
		opt(&cfg)
	}

	refl, err := spirv.Reflect(code, cfg.entryPoint)
	if err != nil {
		return nil, newError(op, ErrReflection, err)
	}
	if err := checkBindings(refl.Bindings); err != nil {
		return nil, newError(op, ErrReflection, err)
	}
	if ctx.cfg.Validation {
		if err := checkLimits(refl); err != nil {
			return nil, newError(op, ErrReflection, err)
		}
	}

	k := &Kernel{
		ctx:        ctx,
		label:      ctx.label(cfg.label),
		entryPoint: refl.EntryPoint,
		workgroup:  refl.WorkgroupSize,
		bindings:   refl.Set(0),
		pool:       refl.PoolSizes(0),
		bound:      make(map[uint32]*memory.Allocation),
	}

	Logger().Debug("gcl: kernel reflected",
		"kernel", k.label,
		"entry_point", k.entryPoint,
		"workgroup", k.workgroup,
		"bindings", len(k.bindings))

	err = ctx.exclusive(op, func() error {
		if err := k.build(code); err != nil {
			k.release()
			return err
		}
		if err := ctx.track(k); err != nil {
			k.release()
			return newError(op, ErrContextDestroyed, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return k, nil
}

// checkBindings rejects declarations the kernel cannot lay out.
func checkBindings(bindings []Binding) error {
	for _, b := range bindings {
		switch {
		case b.Set != 0:
			return fmt.Errorf("binding %d (%s) is in set %d; only set 0 is supported", b.Binding, b.Name, b.Set)
		case !b.Kind.IsBuffer():
			return fmt.Errorf("%w: binding %d is a %s", spirv.ErrUnsupportedKind, b.Binding, b.Kind)
		case b.Count != 1:
			return fmt.Errorf("%w: binding %d has count %d", spirv.ErrUnsupportedCount, b.Binding, b.Count)
		}
	}
	return nil
}

// checkLimits validates the kernel against the default device limits.
func checkLimits(refl *spirv.Reflection) error {
	limits := gputypes.DefaultLimits()
	x, y, z := refl.WorkgroupSize[0], refl.WorkgroupSize[1], refl.WorkgroupSize[2]
	if x > limits.MaxComputeWorkgroupSizeX || y > limits.MaxComputeWorkgroupSizeY || z > limits.MaxComputeWorkgroupSizeZ {
		return fmt.Errorf("workgroup size %dx%dx%d exceeds %dx%dx%d", x, y, z,
			limits.MaxComputeWorkgroupSizeX, limits.MaxComputeWorkgroupSizeY, limits.MaxComputeWorkgroupSizeZ)
	}
	if uint64(x)*uint64(y)*uint64(z) > uint64(limits.MaxComputeInvocationsPerWorkgroup) {
		return fmt.Errorf("workgroup size %dx%dx%d exceeds %d invocations", x, y, z, limits.MaxComputeInvocationsPerWorkgroup)
	}

	pool := refl.PoolSizes(0)
	if n := pool[StorageBuffer] + pool[ReadOnlyStorageBuffer]; n > limits.MaxStorageBuffersPerShaderStage {
		return fmt.Errorf("%d storage buffers exceed limit %d", n, limits.MaxStorageBuffersPerShaderStage)
	}
	if n := pool[UniformBuffer]; n > limits.MaxUniformBuffersPerShaderStage {
		return fmt.Errorf("%d uniform buffers exceed limit %d", n, limits.MaxUniformBuffersPerShaderStage)
	}
	return nil
}

func bindingType(kind ResourceKind) gputypes.BufferBindingType {
	switch kind {
	case UniformBuffer:
		return gputypes.BufferBindingTypeUniform
	case ReadOnlyStorageBuffer:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

// build creates the device objects. The caller holds the execution token
// and releases partial state on error.
func (k *Kernel) build(code []uint32) error {
	const op = "new kernel"
	d := k.ctx.device

	module, err := d.CreateShaderModule(k.label+"_shader", code)
	if err != nil {
		return newError(op, ErrPipeline, fmt.Errorf("create shader module: %w", err))
	}
	k.module = module

	var layouts []driver.BindGroupLayout
	if len(k.bindings) > 0 {
		entries := make([]gputypes.BindGroupLayoutEntry, len(k.bindings))
		for i, b := range k.bindings {
			entries[i] = gputypes.BindGroupLayoutEntry{
				Binding:    b.Binding,
				Visibility: gputypes.ShaderStageCompute,
				Buffer:     &gputypes.BufferBindingLayout{Type: bindingType(b.Kind)},
			}
		}
		layout, err := d.CreateBindGroupLayout(k.label+"_layout", entries)
		if err != nil {
			return newError(op, ErrPipeline, fmt.Errorf("create bind group layout: %w", err))
		}
		k.layout = layout
		layouts = []driver.BindGroupLayout{layout}
	}

	pipelineLayout, err := d.CreatePipelineLayout(k.label+"_pipeline_layout", layouts)
	if err != nil {
		return newError(op, ErrPipeline, fmt.Errorf("create pipeline layout: %w", err))
	}
	k.pipelineLayout = pipelineLayout

	pipeline, err := d.CreateComputePipeline(k.label+"_pipeline", pipelineLayout, module, k.entryPoint)
	if err != nil {
		return newError(op, ErrPipeline, fmt.Errorf("create compute pipeline %q: %w", k.entryPoint, err))
	}
	k.pipeline = pipeline
	return nil
}

// EntryPoint returns the name of the compute entry point.
func (k *Kernel) EntryPoint() string { return k.entryPoint }

// Label returns the kernel's debug label.
func (k *Kernel) Label() string { return k.label }

// WorkgroupSize returns the local workgroup size (x, y, z).
func (k *Kernel) WorkgroupSize() [3]uint32 { return k.workgroup }

// Bindings returns the declared bindings, sorted by binding index.
func (k *Kernel) Bindings() []Binding { return slices.Clone(k.bindings) }

// HasDescriptors reports whether the kernel declares any bindings. A
// kernel without bindings has no bind group layout and no bind group.
func (k *Kernel) HasDescriptors() bool { return len(k.bindings) > 0 }

// PoolSizes returns the number of descriptors per kind. It is empty for a
// kernel without bindings and nil once the kernel is destroyed.
func (k *Kernel) PoolSizes() map[ResourceKind]uint32 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return maps.Clone(k.pool)
}

// GroupCount returns the number of workgroups along x needed to cover
// elements invocations.
func (k *Kernel) GroupCount(elements uint32) uint32 {
	w := uint64(k.workgroup[0])
	return uint32((uint64(elements) + w - 1) / w)
}

// Bind attaches buf to the binding slot. The kernel uses buf's full
// extent. Once every declared slot is bound the bind group is rebuilt, so
// rebinding a slot takes effect on the next dispatch.
func (k *Kernel) Bind(slot uint32, buf Bindable) error {
	const op = "bind"

	if err := k.ctx.alive(op); err != nil {
		return err
	}
	if buf == nil {
		return newError(op, ErrBufferDestroyed, fmt.Errorf("nil buffer for binding %d", slot))
	}
	if buf.owner() != k.ctx {
		return newError(op, ErrContextMismatch, nil)
	}
	if !slices.ContainsFunc(k.bindings, func(b Binding) bool { return b.Binding == slot }) {
		return newError(op, ErrUnknownBinding, fmt.Errorf("binding %d of %s", slot, k.label))
	}
	alloc := buf.allocation()
	if alloc.Freed() {
		return newError(op, ErrBufferDestroyed, nil)
	}

	return k.ctx.exclusive(op, func() error {
		k.mu.Lock()
		defer k.mu.Unlock()

		if k.destroyed {
			return newError(op, ErrKernelDestroyed, fmt.Errorf("kernel %s", k.label))
		}
		k.bound[slot] = alloc
		if len(k.bound) < len(k.bindings) {
			return nil
		}
		return k.rebuildLocked(op)
	})
}

// rebuildLocked replaces the bind group with one over the bound buffers.
// The caller holds k.mu and the execution token.
func (k *Kernel) rebuildLocked(op string) error {
	entries := make([]gputypes.BindGroupEntry, 0, len(k.bindings))
	for _, b := range k.bindings {
		buf := k.bound[b.Binding].Buffer()
		if buf == nil {
			return newError(op, ErrBufferDestroyed, fmt.Errorf("binding %d", b.Binding))
		}
		entries = append(entries, gputypes.BindGroupEntry{
			Binding: b.Binding,
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: 0,
				Size:   buf.Size(),
			},
		})
	}

	group, err := k.ctx.device.CreateBindGroup(k.label+"_bind_group", k.layout, entries)
	if err != nil {
		return newError(op, ErrDevice, fmt.Errorf("create bind group: %w", err))
	}
	if k.group != nil {
		k.ctx.drainInflight(op)
		k.ctx.device.DestroyBindGroup(k.group)
	}
	k.group = group
	return nil
}

// Dispatch runs the kernel over elements invocations along x and blocks
// until it completes. Zero elements is a no-op.
//
// Buffers written through Map must be flushed first; Send does that.
func (k *Kernel) Dispatch(elements uint32) error {
	return k.DispatchContext(context.Background(), elements, 1, 1)
}

// DispatchGroups runs ceil(elements/workgroupX) by y by z workgroups and
// blocks until they complete. A zero in any dimension is a no-op.
func (k *Kernel) DispatchGroups(elements, y, z uint32) error {
	return k.DispatchContext(context.Background(), elements, y, z)
}

// DispatchContext is like DispatchGroups but gives up when ctx is done.
// A missed deadline returns ErrTimeout; the submission may still be running
// on the device, and the context waits for it before reusing or destroying
// anything it references.
func (k *Kernel) DispatchContext(ctx context.Context, elements, y, z uint32) error {
	const op = "dispatch"

	if elements == 0 || y == 0 || z == 0 {
		return nil
	}
	x := k.GroupCount(elements)
	limit := gputypes.DefaultLimits().MaxComputeWorkgroupsPerDimension
	if x > limit || y > limit || z > limit {
		return newError(op, ErrDispatch, fmt.Errorf("%dx%dx%d workgroups exceed %d per dimension", x, y, z, limit))
	}

	return k.ctx.execute(ctx, op, func(enc driver.CommandEncoder) error {
		k.mu.Lock()
		defer k.mu.Unlock()

		if k.destroyed {
			return newError(op, ErrKernelDestroyed, fmt.Errorf("kernel %s", k.label))
		}
		if err := k.checkBoundLocked(); err != nil {
			return newError(op, ErrDispatch, err)
		}

		enc.SetPipeline(k.pipeline)
		if k.group != nil {
			enc.SetBindGroup(0, k.group)
		}
		enc.Dispatch(x, y, z)

		Logger().Debug("gcl: dispatch", "kernel", k.label, "groups", [3]uint32{x, y, z})
		return nil
	})
}

func (k *Kernel) checkBoundLocked() error {
	var missing []uint32
	for _, b := range k.bindings {
		alloc, ok := k.bound[b.Binding]
		if !ok {
			missing = append(missing, b.Binding)
			continue
		}
		if alloc.Freed() {
			return fmt.Errorf("%w: binding %d", ErrBufferDestroyed, b.Binding)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: bindings %v of %s", ErrUnboundBinding, missing, k.label)
	}
	return nil
}

// Destroy releases the kernel's device objects. It is idempotent and a
// no-op once the context is destroyed.
func (k *Kernel) Destroy() {
	_ = k.ctx.exclusive("destroy kernel", func() error {
		k.ctx.drainInflight("destroy kernel")
		k.ctx.untrack(k)
		k.release()
		return nil
	})
}

// release destroys the bind group, the pool accounting, the layout, the
// pipeline, the pipeline layout and the shader module, in that order. The
// caller holds the execution token.
func (k *Kernel) release() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.destroyed {
		return
	}
	k.destroyed = true

	d := k.ctx.device
	if k.group != nil {
		d.DestroyBindGroup(k.group)
		k.group = nil
	}
	k.bound = nil
	k.pool = nil
	if k.layout != nil {
		d.DestroyBindGroupLayout(k.layout)
		k.layout = nil
	}
	if k.pipeline != nil {
		d.DestroyComputePipeline(k.pipeline)
		k.pipeline = nil
	}
	if k.pipelineLayout != nil {
		d.DestroyPipelineLayout(k.pipelineLayout)
		k.pipelineLayout = nil
	}
	if k.module != nil {
		d.DestroyShaderModule(k.module)
		k.module = nil
	}
}
