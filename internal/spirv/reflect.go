// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package spirv

import (
	"cmp"
	"fmt"
	"slices"
)

// ResourceKind is the descriptor type of a binding.
type ResourceKind int

// Resource kinds.
const (
	KindUnknown ResourceKind = iota
	UniformBuffer
	StorageBuffer
	ReadOnlyStorageBuffer
	Sampler
	SampledImage
	StorageImage
	CombinedImageSampler
	AccelerationStructure
)

// String returns the kind name.
func (k ResourceKind) String() string {
	switch k {
	case UniformBuffer:
		return "uniform-buffer"
	case StorageBuffer:
		return "storage-buffer"
	case ReadOnlyStorageBuffer:
		return "read-only-storage-buffer"
	case Sampler:
		return "sampler"
	case SampledImage:
		return "sampled-image"
	case StorageImage:
		return "storage-image"
	case CombinedImageSampler:
		return "combined-image-sampler"
	case AccelerationStructure:
		return "acceleration-structure"
	default:
		return "unknown"
	}
}

// IsBuffer reports whether the kind binds a buffer.
func (k ResourceKind) IsBuffer() bool {
	return k == UniformBuffer || k == StorageBuffer || k == ReadOnlyStorageBuffer
}

// Binding is one descriptor binding declared by a module.
type Binding struct {
	Set     uint32
	Binding uint32
	Kind    ResourceKind
	// Count is the descriptor array length: 1 for a plain binding and 0 for
	// a runtime-sized array.
	Count uint32
	Name  string
}

// Reflection is the pipeline-relevant metadata of one compute entry point.
type Reflection struct {
	EntryPoint    string
	WorkgroupSize [3]uint32
	// Bindings is sorted by set, then binding.
	Bindings []Binding
}

// Set returns the bindings of descriptor set n, sorted by binding.
func (r *Reflection) Set(n uint32) []Binding {
	var out []Binding
	for _, b := range r.Bindings {
		if b.Set == n {
			out = append(out, b)
		}
	}
	return out
}

// Sets returns the distinct descriptor set numbers in ascending order.
func (r *Reflection) Sets() []uint32 {
	var out []uint32
	for _, b := range r.Bindings {
		if len(out) == 0 || out[len(out)-1] != b.Set {
			out = append(out, b.Set)
		}
	}
	return out
}

// PoolSizes aggregates descriptor counts per kind for set n. A runtime
// array counts as one descriptor.
func (r *Reflection) PoolSizes(n uint32) map[ResourceKind]uint32 {
	sizes := make(map[ResourceKind]uint32)
	for _, b := range r.Set(n) {
		sizes[b.Kind] += max(b.Count, 1)
	}
	return sizes
}

type entryPoint struct {
	id    uint32
	model uint32
	name  string
}

type decoration struct {
	set, binding       uint32
	hasBinding         bool
	block, bufferBlock bool
	nonWritable        bool
	builtIn            int64
}

type variable struct {
	id      uint32
	typeID  uint32
	storage uint32
}

// module holds the subset of a SPIR-V module reflection needs.
type module struct {
	names       map[uint32]string
	entries     []entryPoint
	localSize   map[uint32][3]uint32
	localSizeID map[uint32][3]uint32
	constants   map[uint32]uint32
	composites  map[uint32][]uint32
	decorations map[uint32]*decoration
	types       map[uint32]instruction
	members     map[uint32]int
	readonly    map[uint32]int
	variables   []variable
}

func (m *module) decoration(id uint32) *decoration {
	d, ok := m.decorations[id]
	if !ok {
		d = &decoration{builtIn: -1}
		m.decorations[id] = d
	}
	return d
}

func parse(code []uint32) (*module, error) {
	words, err := normalize(code)
	if err != nil {
		return nil, err
	}
	m := &module{
		names:       make(map[uint32]string),
		localSize:   make(map[uint32][3]uint32),
		localSizeID: make(map[uint32][3]uint32),
		constants:   make(map[uint32]uint32),
		composites:  make(map[uint32][]uint32),
		decorations: make(map[uint32]*decoration),
		types:       make(map[uint32]instruction),
		members:     make(map[uint32]int),
		readonly:    make(map[uint32]int),
	}
	err = each(words, func(inst instruction) error {
		ops := inst.operands
		short := func(n int) error {
			if len(ops) < n {
				return fmt.Errorf("%w: opcode %d has %d operands, want at least %d", ErrMalformed, inst.op, len(ops), n)
			}
			return nil
		}
		switch inst.op {
		case opName:
			if err := short(2); err != nil {
				return err
			}
			name, _, err := literalString(ops[1:])
			if err != nil {
				return err
			}
			m.names[ops[0]] = name
		case opEntryPoint:
			if err := short(3); err != nil {
				return err
			}
			name, _, err := literalString(ops[2:])
			if err != nil {
				return err
			}
			m.entries = append(m.entries, entryPoint{id: ops[1], model: ops[0], name: name})
		case opExecutionMode, OpExecutionModeID:
			if err := short(2); err != nil {
				return err
			}
			switch ops[1] {
			case executionModeLocalSize:
				if err := short(5); err != nil {
					return err
				}
				m.localSize[ops[0]] = [3]uint32{ops[2], ops[3], ops[4]}
			case executionModeLocalSizeID:
				if err := short(5); err != nil {
					return err
				}
				m.localSizeID[ops[0]] = [3]uint32{ops[2], ops[3], ops[4]}
			}
		case OpTypeImage, OpTypeSampler, OpTypeSampledImage, opTypeArray,
			opTypeRuntimeArray, opTypePointer, opTypeAccelerationStruct:
			if err := short(1); err != nil {
				return err
			}
			m.types[ops[0]] = inst
		case opTypeStruct:
			if err := short(1); err != nil {
				return err
			}
			m.types[ops[0]] = inst
			m.members[ops[0]] = len(ops) - 1
		case opConstant, opSpecConstant:
			if err := short(3); err != nil {
				return err
			}
			m.constants[ops[1]] = ops[2]
		case opConstantComposite, opSpecConstantComposite:
			if err := short(2); err != nil {
				return err
			}
			m.composites[ops[1]] = ops[2:]
		case opVariable:
			if err := short(3); err != nil {
				return err
			}
			m.variables = append(m.variables, variable{id: ops[1], typeID: ops[0], storage: ops[2]})
		case opDecorate:
			if err := short(2); err != nil {
				return err
			}
			d := m.decoration(ops[0])
			switch ops[1] {
			case decorationDescriptorSet:
				if err := short(3); err != nil {
					return err
				}
				d.set = ops[2]
			case decorationBinding:
				if err := short(3); err != nil {
					return err
				}
				d.binding = ops[2]
				d.hasBinding = true
			case decorationBlock:
				d.block = true
			case DecorationBufferBlock:
				d.bufferBlock = true
			case decorationNonWritable:
				d.nonWritable = true
			case decorationBuiltIn:
				if err := short(3); err != nil {
					return err
				}
				d.builtIn = int64(ops[2])
			}
		case opMemberDecorate:
			if err := short(3); err != nil {
				return err
			}
			if ops[2] == decorationNonWritable {
				m.readonly[ops[0]]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// EntryPoints returns the names of the GLCompute entry points in module
// order.
func EntryPoints(code []uint32) ([]string, error) {
	m, err := parse(code)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range m.entries {
		if e.model == executionModelGLCompute {
			names = append(names, e.name)
		}
	}
	return names, nil
}

// Reflect extracts the workgroup size and descriptor bindings of the named
// GLCompute entry point. An empty name selects the first one.
func Reflect(code []uint32, entry string) (*Reflection, error) {
	m, err := parse(code)
	if err != nil {
		return nil, err
	}

	ep, ok := m.entryPoint(entry)
	if !ok {
		if entry == "" {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, entry)
	}

	size, err := m.workgroupSize(ep.id)
	if err != nil {
		return nil, err
	}

	r := &Reflection{EntryPoint: ep.name, WorkgroupSize: size}
	for _, v := range m.variables {
		d, ok := m.decorations[v.id]
		if !ok || !d.hasBinding {
			continue
		}
		b, err := m.binding(v, d)
		if err != nil {
			return nil, err
		}
		r.Bindings = append(r.Bindings, b)
	}
	slices.SortFunc(r.Bindings, func(a, b Binding) int {
		if c := cmp.Compare(a.Set, b.Set); c != 0 {
			return c
		}
		return cmp.Compare(a.Binding, b.Binding)
	})
	for i := 1; i < len(r.Bindings); i++ {
		prev, cur := r.Bindings[i-1], r.Bindings[i]
		if prev.Set == cur.Set && prev.Binding == cur.Binding {
			return nil, fmt.Errorf("%w: set %d binding %d declared twice", ErrMalformed, cur.Set, cur.Binding)
		}
	}
	return r, nil
}

func (m *module) entryPoint(name string) (entryPoint, bool) {
	for _, e := range m.entries {
		if e.model != executionModelGLCompute {
			continue
		}
		if name == "" || e.name == name {
			return e, true
		}
	}
	return entryPoint{}, false
}

// workgroupSize resolves the local size of an entry point. A constant
// decorated with the WorkgroupSize built-in overrides the execution mode.
// Dimensions that are never declared default to 1.
func (m *module) workgroupSize(entry uint32) ([3]uint32, error) {
	for id, d := range m.decorations {
		if d.builtIn != builtInWorkgroupSize {
			continue
		}
		parts, ok := m.composites[id]
		if !ok || len(parts) != 3 {
			return [3]uint32{}, fmt.Errorf("%w: WorkgroupSize built-in is not a 3-component constant", ErrMalformed)
		}
		return m.resolveSize(parts)
	}
	if ids, ok := m.localSizeID[entry]; ok {
		return m.resolveSize(ids[:])
	}
	if size, ok := m.localSize[entry]; ok {
		return checkSize(size)
	}
	return [3]uint32{1, 1, 1}, nil
}

func (m *module) resolveSize(ids []uint32) ([3]uint32, error) {
	var size [3]uint32
	for i, id := range ids {
		v, ok := m.constants[id]
		if !ok {
			return size, fmt.Errorf("%w: workgroup size id %%%d is not a scalar constant", ErrMalformed, id)
		}
		size[i] = v
	}
	return checkSize(size)
}

func checkSize(size [3]uint32) ([3]uint32, error) {
	for i, v := range size {
		if v == 0 {
			return size, fmt.Errorf("%w: workgroup size dimension %d is zero", ErrMalformed, i)
		}
	}
	return size, nil
}

func (m *module) binding(v variable, d *decoration) (Binding, error) {
	b := Binding{Set: d.set, Binding: d.binding, Count: 1, Name: m.names[v.id]}

	ptr, ok := m.types[v.typeID]
	if !ok || ptr.op != opTypePointer || len(ptr.operands) < 3 {
		return b, fmt.Errorf("%w: variable %%%d does not have pointer type", ErrMalformed, v.id)
	}
	elem := ptr.operands[2]

	if t, ok := m.types[elem]; ok {
		switch t.op {
		case opTypeArray:
			if len(t.operands) < 3 {
				return b, fmt.Errorf("%w: short OpTypeArray", ErrMalformed)
			}
			n, ok := m.constants[t.operands[2]]
			if !ok {
				return b, fmt.Errorf("%w: array length %%%d is not a constant", ErrMalformed, t.operands[2])
			}
			b.Count = n
			elem = t.operands[1]
		case opTypeRuntimeArray:
			if len(t.operands) < 2 {
				return b, fmt.Errorf("%w: short OpTypeRuntimeArray", ErrMalformed)
			}
			b.Count = 0
			elem = t.operands[1]
		}
	}
	if b.Name == "" {
		b.Name = m.names[elem]
	}

	switch v.storage {
	case storageStorageBuffer:
		b.Kind = m.storageKind(v.id, elem)
	case storageUniform:
		if sd, ok := m.decorations[elem]; ok && sd.bufferBlock {
			b.Kind = m.storageKind(v.id, elem)
		} else {
			b.Kind = UniformBuffer
		}
	case storageUniformConstant:
		t, ok := m.types[elem]
		if !ok {
			return b, fmt.Errorf("%w: binding %d has no resource type", ErrUnsupportedKind, b.Binding)
		}
		switch t.op {
		case OpTypeImage:
			// OpTypeImage operand 6 is Sampled: 2 means storage image.
			if len(t.operands) > 6 && t.operands[6] == 2 {
				b.Kind = StorageImage
			} else {
				b.Kind = SampledImage
			}
		case OpTypeSampler:
			b.Kind = Sampler
		case OpTypeSampledImage:
			b.Kind = CombinedImageSampler
		case opTypeAccelerationStruct:
			b.Kind = AccelerationStructure
		default:
			return b, fmt.Errorf("%w: binding %d uses opcode %d", ErrUnsupportedKind, b.Binding, t.op)
		}
	default:
		return b, fmt.Errorf("%w: binding %d in storage class %d", ErrUnsupportedKind, b.Binding, v.storage)
	}
	return b, nil
}

// storageKind distinguishes read-only storage buffers: either the variable
// is NonWritable or every member of its block is.
func (m *module) storageKind(varID, block uint32) ResourceKind {
	if d, ok := m.decorations[varID]; ok && d.nonWritable {
		return ReadOnlyStorageBuffer
	}
	if n := m.members[block]; n > 0 && m.readonly[block] >= n {
		return ReadOnlyStorageBuffer
	}
	return StorageBuffer
}
