// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import (
	"errors"
	"time"

	"github.com/gogpu/gputypes"
)

// Common driver errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not registered.
	ErrBackendNotAvailable = errors.New("driver: backend not available")

	// ErrNoCompute is returned when opening an adapter without a compute queue.
	ErrNoCompute = errors.New("driver: adapter has no compute queue")

	// ErrInvalidResource is returned when a resource does not belong to the device.
	ErrInvalidResource = errors.New("driver: invalid resource")
)

// Backend creates driver instances. Backends are registered by name with
// Register and looked up with Get or Default.
type Backend interface {
	// Name returns the backend identifier (e.g., "vulkan", "software").
	Name() string

	// CreateInstance opens the driver. The instance owns every adapter it
	// enumerates and must be destroyed after all devices opened from it.
	CreateInstance(desc InstanceDescriptor) (Instance, error)
}

// InstanceDescriptor configures instance creation.
type InstanceDescriptor struct {
	// Label is a debug label for the instance.
	Label string

	// Validation enables the driver's debug and validation layers.
	Validation bool
}

// Instance is an opened driver.
type Instance interface {
	// Adapters enumerates the physical devices visible to the instance,
	// in driver order.
	Adapters() []Adapter

	// Destroy releases the instance.
	Destroy()
}

// AdapterInfo describes a physical device.
type AdapterInfo struct {
	Name       string
	Driver     string
	DeviceType gputypes.DeviceType

	// Compute reports whether the adapter exposes a queue with compute
	// capability.
	Compute bool

	// QueueFamily is the index of the first compute-capable queue family.
	// Meaningful only when Compute is true.
	QueueFamily uint32
}

// Kind returns a short human readable device type.
func (i AdapterInfo) Kind() string {
	switch i.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		return "discrete"
	case gputypes.DeviceTypeIntegratedGPU:
		return "integrated"
	default:
		return "other"
	}
}

// Adapter is a physical device that can be opened.
type Adapter interface {
	Info() AdapterInfo

	// Open creates a logical device with a single compute queue.
	// Returns ErrNoCompute when Info().Compute is false.
	Open() (Device, error)
}

// Resource is implemented by every device object.
type Resource interface {
	Label() string
}

// Buffer is device memory usable as a storage or uniform binding.
type Buffer interface {
	Resource
	Size() uint64
	NativeHandle() uintptr
}

// ShaderModule is a loaded SPIR-V module.
type ShaderModule interface{ Resource }

// BindGroupLayout describes the bindings of one descriptor set.
type BindGroupLayout interface{ Resource }

// BindGroup is a descriptor set: buffers attached to a layout.
type BindGroup interface{ Resource }

// PipelineLayout lists the bind group layouts of a pipeline.
type PipelineLayout interface{ Resource }

// ComputePipeline is a compiled compute entry point.
type ComputePipeline interface{ Resource }

// CommandBuffer is a finished recording ready for submission.
type CommandBuffer interface{ Resource }

// Fence is a monotonically increasing timeline the queue signals.
type Fence interface{ Resource }

// BufferDescriptor describes a buffer to create.
type BufferDescriptor struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
}

// Device is a logical device with one compute queue.
//
// Implementations must be safe for concurrent resource creation; command
// recording on a single encoder is not concurrent and callers serialize it.
type Device interface {
	// Queue returns the device's compute queue.
	Queue() Queue

	CreateBuffer(desc BufferDescriptor) (Buffer, error)
	DestroyBuffer(b Buffer)

	CreateShaderModule(label string, code []uint32) (ShaderModule, error)
	DestroyShaderModule(m ShaderModule)

	CreateBindGroupLayout(label string, entries []gputypes.BindGroupLayoutEntry) (BindGroupLayout, error)
	DestroyBindGroupLayout(l BindGroupLayout)

	CreateBindGroup(label string, layout BindGroupLayout, entries []gputypes.BindGroupEntry) (BindGroup, error)
	DestroyBindGroup(g BindGroup)

	CreatePipelineLayout(label string, layouts []BindGroupLayout) (PipelineLayout, error)
	DestroyPipelineLayout(l PipelineLayout)

	CreateComputePipeline(label string, layout PipelineLayout, module ShaderModule, entryPoint string) (ComputePipeline, error)
	DestroyComputePipeline(p ComputePipeline)

	// CreateCommandEncoder creates a reusable encoder. Each recording is
	// started with BeginEncoding and finished with EndEncoding or
	// DiscardEncoding.
	CreateCommandEncoder(label string) (CommandEncoder, error)
	DestroyCommandEncoder(e CommandEncoder)
	FreeCommandBuffer(cb CommandBuffer)

	CreateFence() (Fence, error)
	DestroyFence(f Fence)

	// Wait blocks until fence reaches value or timeout elapses.
	// Returns false on timeout.
	Wait(f Fence, value uint64, timeout time.Duration) (bool, error)

	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error

	// Destroy releases the device. All resources must be destroyed first.
	Destroy()
}

// CommandEncoder records one compute pass at a time.
type CommandEncoder interface {
	Resource

	// BeginEncoding starts a recording and opens its compute pass.
	BeginEncoding(label string) error

	SetPipeline(p ComputePipeline)
	SetBindGroup(index uint32, g BindGroup)
	Dispatch(x, y, z uint32)

	// EndEncoding closes the compute pass and returns the recording.
	EndEncoding() (CommandBuffer, error)

	// DiscardEncoding abandons the current recording.
	DiscardEncoding()
}

// Queue submits work and transfers buffer contents.
type Queue interface {
	// Submit executes cb and signals fence with value when it completes.
	Submit(cb CommandBuffer, fence Fence, value uint64) error

	// WriteBuffer copies data into b at offset.
	WriteBuffer(b Buffer, offset uint64, data []byte) error

	// ReadBuffer copies len(dst) bytes out of b starting at offset.
	// It waits for the transfer to complete.
	ReadBuffer(b Buffer, offset uint64, dst []byte) error
}
