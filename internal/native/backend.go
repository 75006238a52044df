// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build !nogpu

package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan HAL backend

	"github.com/gogpu/gcl/driver"
)

// instanceFlagsDebugValidation enables the debug and validation instance
// flags (VK_LAYER_KHRONOS_validation on Vulkan).
const instanceFlagsDebugValidation = 1<<0 | 1<<1

// ErrVulkanUnavailable is returned when the HAL has no Vulkan backend.
var ErrVulkanUnavailable = errors.New("native: vulkan backend not available")

func init() {
	driver.Register(driver.BackendVulkan, func() driver.Backend { return Backend{} })
}

// Backend is the Vulkan driver.Backend.
type Backend struct{}

// Name returns the backend identifier.
func (Backend) Name() string { return driver.BackendVulkan }

// CreateInstance opens the Vulkan HAL.
func (Backend) CreateInstance(desc driver.InstanceDescriptor) (driver.Instance, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, ErrVulkanUnavailable
	}
	halDesc := &hal.InstanceDescriptor{Flags: 0}
	if desc.Validation {
		halDesc.Flags = instanceFlagsDebugValidation
	}
	raw, err := backend.CreateInstance(halDesc)
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}
	driver.Logger().Debug("native: instance created", "validation", desc.Validation)
	return &instance{raw: raw}, nil
}

type instance struct {
	raw hal.Instance
}

func (i *instance) Adapters() []driver.Adapter {
	exposed := i.raw.EnumerateAdapters(nil)
	out := make([]driver.Adapter, 0, len(exposed))
	for n := range exposed {
		out = append(out, &adapter{exposed: exposed[n]})
	}
	return out
}

func (i *instance) Destroy() {
	i.raw.Destroy()
}

type adapter struct {
	exposed hal.ExposedAdapter
}

// Info reports every HAL adapter as compute capable: the HAL only exposes
// adapters whose queue family 0 supports graphics and compute.
func (a *adapter) Info() driver.AdapterInfo {
	return driver.AdapterInfo{
		Name:        a.exposed.Info.Name,
		Driver:      driver.BackendVulkan,
		DeviceType:  a.exposed.Info.DeviceType,
		Compute:     true,
		QueueFamily: 0,
	}
}

func (a *adapter) Open() (driver.Device, error) {
	openDev, err := a.exposed.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("native: open %s: %w", a.exposed.Info.Name, err)
	}
	driver.Logger().Info("native: device opened", "adapter", a.exposed.Info.Name)
	return newDevice(openDev.Device, openDev.Queue, true), nil
}

// Wrap adapts a device owned by someone else. Destroy on the returned device
// releases nothing but the resources gcl created.
func Wrap(device hal.Device, queue hal.Queue) driver.Device {
	return newDevice(device, queue, false)
}

// WrapProvider adapts a provider exposing HalDevice() any and HalQueue() any
// returning hal.Device and hal.Queue.
func WrapProvider(provider any) (driver.Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue")
	}
	return Wrap(device, queue), nil
}
