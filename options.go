package gcl

import (
	"github.com/gogpu/gcl/driver"
)

// Config holds Context configuration. Use DefaultConfig and Options rather
// than building it directly.
type Config struct {
	// Backend names a registered driver backend. Empty selects the
	// highest-priority registered backend (vulkan, then software).
	Backend string

	// Driver, when set, is used instead of looking up Backend.
	Driver driver.Backend

	// Validation enables driver debug/validation layers and extra checks
	// when kernels are built.
	Validation bool

	// MemoryBudgetMB caps device memory allocated through the context.
	// Zero means unlimited.
	MemoryBudgetMB int

	// Label prefixes the debug labels of every device object.
	Label string

	// AdapterFilter, when set, skips adapters it returns false for. The
	// first remaining compute-capable adapter is used.
	AdapterFilter func(driver.AdapterInfo) bool
}

// DefaultConfig returns the configuration New starts from.
func DefaultConfig() Config {
	return Config{Label: "gcl"}
}

// Option configures a Context during creation.
//
// Example:
//
//	ctx, err := gcl.New(gcl.WithValidation(true), gcl.WithMemoryBudget(512))
type Option func(*Config)

// WithBackend selects a registered backend by name.
func WithBackend(name string) Option {
	return func(c *Config) { c.Backend = name }
}

// WithDriver uses b directly instead of the backend registry.
func WithDriver(b driver.Backend) Option {
	return func(c *Config) { c.Driver = b }
}

// WithValidation toggles driver validation layers.
func WithValidation(enabled bool) Option {
	return func(c *Config) { c.Validation = enabled }
}

// WithMemoryBudget caps device memory in megabytes. Zero means unlimited.
func WithMemoryBudget(megabytes int) Option {
	return func(c *Config) { c.MemoryBudgetMB = megabytes }
}

// WithLabel sets the debug label prefix.
func WithLabel(label string) Option {
	return func(c *Config) {
		if label != "" {
			c.Label = label
		}
	}
}

// WithAdapterFilter restricts which adapters may be selected.
func WithAdapterFilter(filter func(driver.AdapterInfo) bool) Option {
	return func(c *Config) { c.AdapterFilter = filter }
}
