// Package spirv reads the metadata of compute SPIR-V modules that gcl needs
// to build pipelines: entry points, workgroup size and descriptor bindings.
//
// It is not a validator. Instructions that do not contribute to reflection
// are skipped by word count.
package spirv
