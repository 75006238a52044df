//go:build !nogpu

// Package native implements driver.Backend on the gogpu/wgpu HAL Vulkan
// backend. Importing it registers the "vulkan" backend.
//
// Build with -tags nogpu to exclude it (and its Vulkan loader dependency).
package native
