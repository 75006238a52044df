package soft

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gcl/driver"
)

func init() {
	driver.Register(driver.BackendSoftware, func() driver.Backend {
		return NewBackend()
	})
}

// AdapterConfig describes an adapter the backend exposes.
type AdapterConfig struct {
	Name       string
	DeviceType gputypes.DeviceType
	// Compute reports a compute-capable queue family. Adapters without one
	// fail to open.
	Compute bool
}

// DefaultAdapter is the adapter exposed when none are configured.
var DefaultAdapter = AdapterConfig{Name: "gcl software device", Compute: true}

// Faults injects failures into the devices of a backend. A non-nil error
// field makes the corresponding operation fail with it.
type Faults struct {
	CreateInstance        error
	OpenDevice            error
	CreateBuffer          error
	CreateShaderModule    error
	CreateBindGroupLayout error
	CreateBindGroup       error
	CreatePipeline        error
	CreateEncoder         error
	CreateFence           error
	Submit                error

	// Hang makes submitted work never signal its fence.
	Hang bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithAdapters replaces the exposed adapters.
func WithAdapters(adapters ...AdapterConfig) Option {
	return func(b *Backend) { b.adapters = adapters }
}

// WithFaults injects failures.
func WithFaults(f Faults) Option {
	return func(b *Backend) { b.faults = f }
}

// Backend is the software driver.Backend.
type Backend struct {
	adapters []AdapterConfig
	faults   Faults
	journal  *Journal
}

// NewBackend creates a software backend exposing DefaultAdapter unless
// configured otherwise.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		adapters: []AdapterConfig{DefaultAdapter},
		journal:  &Journal{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return driver.BackendSoftware }

// Journal returns the event journal shared by the backend's instances and
// devices.
func (b *Backend) Journal() *Journal { return b.journal }

// CreateInstance opens the backend.
func (b *Backend) CreateInstance(desc driver.InstanceDescriptor) (driver.Instance, error) {
	if b.faults.CreateInstance != nil {
		return nil, b.faults.CreateInstance
	}
	inst := &Instance{backend: b, validation: desc.Validation}
	for i, cfg := range b.adapters {
		inst.adapters = append(inst.adapters, &Adapter{instance: inst, index: i, config: cfg})
	}
	b.journal.record("create instance %s", desc.Label)
	return inst, nil
}

// Instance is an opened software backend.
type Instance struct {
	backend    *Backend
	adapters   []*Adapter
	validation bool
}

// Adapters returns the configured adapters.
func (i *Instance) Adapters() []driver.Adapter {
	out := make([]driver.Adapter, len(i.adapters))
	for n, a := range i.adapters {
		out[n] = a
	}
	return out
}

// Validation reports whether the instance was created with validation.
func (i *Instance) Validation() bool { return i.validation }

// Destroy releases the instance.
func (i *Instance) Destroy() {
	i.backend.journal.record("destroy instance")
}

// Adapter is a software adapter.
type Adapter struct {
	instance *Instance
	index    int
	config   AdapterConfig
}

// Info describes the adapter.
func (a *Adapter) Info() driver.AdapterInfo {
	return driver.AdapterInfo{
		Name:       a.config.Name,
		Driver:     driver.BackendSoftware,
		DeviceType: a.config.DeviceType,
		Compute:    a.config.Compute,
	}
}

// Open creates a device.
func (a *Adapter) Open() (driver.Device, error) {
	if !a.config.Compute {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoCompute, a.config.Name)
	}
	b := a.instance.backend
	if b.faults.OpenDevice != nil {
		return nil, b.faults.OpenDevice
	}
	d := &Device{
		name:    a.config.Name,
		journal: b.journal,
		faults:  b.faults,
		buffers: make(map[uintptr]*Buffer),
	}
	d.queue = &Queue{device: d}
	b.journal.record("create device %s", a.config.Name)
	return d, nil
}

// Journal records device events in order.
type Journal struct {
	mu     sync.Mutex
	events []string
}

func (j *Journal) record(format string, args ...any) {
	j.mu.Lock()
	j.events = append(j.events, strings.TrimSpace(fmt.Sprintf(format, args...)))
	j.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (j *Journal) Events() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

// Reset clears the journal.
func (j *Journal) Reset() {
	j.mu.Lock()
	j.events = nil
	j.mu.Unlock()
}
