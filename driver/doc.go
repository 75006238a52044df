// Package driver defines the narrow device interface that gcl executes
// compute work on, and a registry of named backends implementing it.
//
// Two backends ship with the module:
//
//   - "vulkan": the gogpu/wgpu HAL Vulkan device, registered by importing
//     github.com/gogpu/gcl (unless built with the nogpu tag).
//   - "software": an in-process reference device that runs Go functions in
//     place of SPIR-V kernels (package driver/soft).
//
// The interface deliberately covers compute only: buffers, shader modules,
// bind groups, compute pipelines, one command encoder and fences.
// Resources must be explicitly destroyed via the matching Destroy* method;
// destroying a resource still referenced by pending GPU work is undefined.
package driver
