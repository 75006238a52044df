// Package spirvtest assembles small SPIR-V compute modules for tests.
//
// The modules are structurally valid enough for reflection and for the
// software driver; their function bodies are empty.
package spirvtest

import (
	"slices"

	nspirv "github.com/gogpu/naga/spirv"

	"github.com/gogpu/gcl/internal/spirv"
)

// Kernel describes a module to assemble.
type Kernel struct {
	// EntryPoint defaults to "main".
	EntryPoint string

	// LocalSize is emitted as a LocalSize execution mode unless all zero.
	LocalSize [3]uint32

	// LocalSizeID emits LocalSize as LocalSizeId with constant operands.
	LocalSizeID bool

	// BuiltinSize, when non-zero, is emitted as a constant decorated with
	// the WorkgroupSize built-in.
	BuiltinSize [3]uint32

	Bindings []Binding

	// Tag is emitted as an unused constant so that otherwise identical
	// modules have distinct fingerprints.
	Tag uint32
}

// Binding describes one resource variable.
type Binding struct {
	Set, Binding uint32
	Kind         spirv.ResourceKind

	// Count > 1 declares a descriptor array; Runtime a runtime-sized one.
	Count   uint32
	Runtime bool

	// Legacy emits storage buffers as Uniform + BufferBlock.
	Legacy bool

	// MemberReadOnly marks read-only storage on the block members instead
	// of the variable.
	MemberReadOnly bool

	Name string
}

type assembler struct {
	mb *nspirv.ModuleBuilder

	uint32T, float32T uint32

	// Instructions the builder has no method for. modes follow the entry
	// point, types follow the float type they sample.
	modes, types []uint32
}

// raw encodes one instruction with naga's instruction builder.
func raw(op nspirv.OpCode, operands ...uint32) []uint32 {
	ib := nspirv.NewInstructionBuilder()
	for _, w := range operands {
		ib.AddWord(w)
	}
	return ib.Build(op).Encode()
}

func (a *assembler) constant(v uint32) uint32 {
	return a.mb.AddConstant(a.uint32T, v)
}

// Compute assembles k.
func Compute(k Kernel) []uint32 {
	mb := nspirv.NewModuleBuilder(nspirv.Version1_3)
	a := &assembler{mb: mb}
	entry := k.EntryPoint
	if entry == "" {
		entry = "main"
	}

	mb.AddCapability(nspirv.CapabilityShader)
	mb.SetMemoryModel(nspirv.AddressingModelLogical, nspirv.MemoryModelGLSL450)

	a.uint32T = mb.AddTypeInt(32, false)
	a.float32T = mb.AddTypeFloat(32)
	voidT := mb.AddTypeVoid()
	fnT := mb.AddTypeFunction(voidT)

	fn := mb.AddFunction(fnT, voidT, nspirv.FunctionControlNone)
	mb.AddLabel()
	mb.AddReturn()
	mb.AddFunctionEnd()

	mb.AddEntryPoint(nspirv.ExecutionModelGLCompute, fn, entry, nil)
	mb.AddName(fn, entry)

	switch {
	case k.LocalSize == [3]uint32{}:
	case k.LocalSizeID:
		x, y, z := a.constant(k.LocalSize[0]), a.constant(k.LocalSize[1]), a.constant(k.LocalSize[2])
		a.modes = append(a.modes, raw(spirv.OpExecutionModeID, fn, uint32(nspirv.ExecutionModeLocalSizeID), x, y, z)...)
	default:
		mb.AddExecutionMode(fn, nspirv.ExecutionModeLocalSize, k.LocalSize[0], k.LocalSize[1], k.LocalSize[2])
	}

	if k.BuiltinSize != [3]uint32{} {
		vec := mb.AddTypeVector(a.uint32T, 3)
		x, y, z := a.constant(k.BuiltinSize[0]), a.constant(k.BuiltinSize[1]), a.constant(k.BuiltinSize[2])
		c := mb.AddConstantComposite(vec, x, y, z)
		mb.AddDecorate(c, nspirv.DecorationBuiltIn, uint32(nspirv.BuiltInWorkgroupSize))
	}

	if k.Tag != 0 {
		a.constant(k.Tag)
	}

	for _, b := range k.Bindings {
		a.binding(b)
	}

	words, err := spirv.Words(mb.Build())
	if err != nil {
		panic(err)
	}
	words = splice(words, nspirv.OpEntryPoint, a.modes)
	return splice(words, nspirv.OpTypeFloat, a.types)
}

// Binary assembles k as a little-endian SPIR-V binary.
func Binary(k Kernel) []byte {
	return spirv.Bytes(Compute(k))
}

// splice inserts extra after the first instruction with opcode op.
func splice(words []uint32, op nspirv.OpCode, extra []uint32) []uint32 {
	if len(extra) == 0 {
		return words
	}
	for pc := 5; pc < len(words); pc += int(words[pc] >> 16) {
		if nspirv.OpCode(words[pc]&0xFFFF) == op {
			at := pc + int(words[pc]>>16)
			return slices.Concat(words[:at], extra, words[at:])
		}
	}
	return append(words, extra...)
}

func (a *assembler) binding(b Binding) {
	mb := a.mb
	var elem uint32
	storage := nspirv.StorageClassUniformConstant
	switch b.Kind {
	case spirv.UniformBuffer, spirv.StorageBuffer, spirv.ReadOnlyStorageBuffer:
		member := a.float32T
		if b.Kind != spirv.UniformBuffer {
			member = mb.AddTypeRuntimeArray(a.float32T)
			mb.AddDecorate(member, nspirv.DecorationArrayStride, 4)
		}
		block := mb.AddTypeStruct(member)
		mb.AddMemberDecorate(block, 0, nspirv.DecorationOffset, 0)
		switch {
		case b.Kind == spirv.UniformBuffer:
			storage = nspirv.StorageClassUniform
			mb.AddDecorate(block, nspirv.DecorationBlock)
		case b.Legacy:
			storage = nspirv.StorageClassUniform
			mb.AddDecorate(block, spirv.DecorationBufferBlock)
		default:
			storage = nspirv.StorageClassStorageBuffer
			mb.AddDecorate(block, nspirv.DecorationBlock)
		}
		if b.Kind == spirv.ReadOnlyStorageBuffer && b.MemberReadOnly {
			mb.AddMemberDecorate(block, 0, nspirv.DecorationNonWritable)
		}
		elem = block
	case spirv.SampledImage, spirv.StorageImage, spirv.CombinedImageSampler:
		sampled, format := uint32(1), uint32(nspirv.ImageFormatUnknown)
		if b.Kind == spirv.StorageImage {
			sampled, format = 2, uint32(nspirv.ImageFormatRgba32f)
		}
		img := mb.AllocID()
		// 2D, not depth, not arrayed, single-sampled.
		a.types = append(a.types, raw(spirv.OpTypeImage, img, a.float32T, 1, 0, 0, 0, sampled, format)...)
		elem = img
		if b.Kind == spirv.CombinedImageSampler {
			elem = mb.AllocID()
			a.types = append(a.types, raw(spirv.OpTypeSampledImage, elem, img)...)
		}
	case spirv.Sampler:
		elem = mb.AddTypeSampler()
	default:
		// Private storage class: not a descriptor.
		elem, storage = a.float32T, nspirv.StorageClassPrivate
	}

	switch {
	case b.Runtime:
		elem = mb.AddTypeRuntimeArray(elem)
	case b.Count > 1:
		elem = mb.AddTypeArray(elem, a.constant(b.Count))
	}

	ptr := mb.AddTypePointer(storage, elem)
	v := mb.AddVariable(ptr, storage)
	mb.AddDecorate(v, nspirv.DecorationDescriptorSet, b.Set)
	mb.AddDecorate(v, nspirv.DecorationBinding, b.Binding)
	if b.Kind == spirv.ReadOnlyStorageBuffer && !b.MemberReadOnly {
		mb.AddDecorate(v, nspirv.DecorationNonWritable)
	}
	if b.Name != "" {
		mb.AddName(v, b.Name)
	}
}
