//go:build !nogpu

package gcl

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/gcl/driver"
	"github.com/gogpu/gcl/internal/native"
)

// NewFromProvider creates a Context on a device owned by provider, so gcl
// kernels can share a device with a renderer or windowing layer.
//
// The provider must also implement HalDevice() any and HalQueue() any,
// returning the gogpu/wgpu hal.Device and hal.Queue. The Context never
// destroys the provider's device; Destroy releases only what gcl created.
//
// Example:
//
//	ctx, err := gcl.NewFromProvider(app.GPUContextProvider())
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Context, error) {
	const op = "new context from provider"

	if provider == nil {
		return nil, newError(op, ErrDeviceUnavailable, fmt.Errorf("nil provider"))
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	device, err := native.WrapProvider(provider)
	if err != nil {
		return nil, newError(op, ErrDevice, err)
	}

	info := driver.AdapterInfo{
		Name:       "shared device",
		Driver:     driver.BackendVulkan,
		DeviceType: gputypes.DeviceTypeOther,
		Compute:    true,
	}
	c, err := newContext(cfg, driver.BackendVulkan, info, device, true)
	if err != nil {
		return nil, newError(op, ErrDevice, err)
	}

	Logger().Info("gcl: context created on shared device", "backend", c.backend)
	return c, nil
}
