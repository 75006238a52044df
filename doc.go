// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gcl runs compute kernels on the GPU, synchronously.
//
// # Overview
//
// gcl is a small compute-only layer over gogpu/wgpu. It allocates
// host-visible device buffers, loads SPIR-V (or WGSL) compute kernels, binds
// buffers to the slots the kernel declares, and runs the kernel to
// completion.
//
// # Quick Start
//
//	ctx, err := gcl.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Destroy()
//
//	a, _ := gcl.NewBuffer[float32](ctx, 16)
//	b, _ := gcl.NewBuffer[float32](ctx, 16)
//	out, _ := gcl.NewBuffer[float32](ctx, 16)
//
//	k, err := gcl.NewKernel(ctx, "add.spv")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer k.Destroy()
//
//	_ = a.Send(xs)
//	_ = b.Send(ys)
//	_ = k.Bind(0, a)
//	_ = k.Bind(1, b)
//	_ = k.Bind(2, out)
//	_ = k.Dispatch(16)
//	sum, _ := out.Fetch()
//
// # Kernels
//
// A kernel's bind group layout comes from the module itself: the bindings
// of descriptor set 0 and the workgroup size are read from the SPIR-V.
// Dispatch(n) runs ceil(n / workgroupX) workgroups, so kernels must bounds
// check their global invocation id.
//
// # Memory
//
// Buffers behave like non-coherent host-visible memory. Host writes through
// Map reach the device on Flush; kernel writes reach the host on
// Invalidate. Send and Fetch do this for you.
//
// # Backends
//
// The "vulkan" backend (gogpu/wgpu HAL) is the default. The "software"
// backend in driver/soft runs Go implementations of kernels and is meant for
// tests. Build with -tags nogpu to leave the Vulkan backend out.
//
// # Concurrency
//
// A Context, its buffers and its kernels are safe for concurrent use.
// Submissions on one Context are serialized: each dispatch blocks until the
// device has finished it.
package gcl

// Version information
const (
	// Version is the current version of the library
	Version = "0.1.0"

	// VersionMajor is the major version
	VersionMajor = 0

	// VersionMinor is the minor version
	VersionMinor = 1

	// VersionPatch is the patch version
	VersionPatch = 0
)
