package spirv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	nspirv "github.com/gogpu/naga/spirv"
)

// Magic is the SPIR-V magic number in host word order.
const Magic = nspirv.MagicNumber

const headerWords = 5

// Errors returned while parsing.
var (
	ErrMalformed        = errors.New("spirv: malformed module")
	ErrEntryNotFound    = errors.New("spirv: compute entry point not found")
	ErrUnsupportedKind  = errors.New("spirv: unsupported binding kind")
	ErrUnsupportedCount = errors.New("spirv: arrayed bindings are not supported")
)

// Opcodes used by reflection.
const (
	opName              = uint32(nspirv.OpName)
	opEntryPoint        = uint32(nspirv.OpEntryPoint)
	opExecutionMode     = uint32(nspirv.OpExecutionMode)
	opTypeArray         = uint32(nspirv.OpTypeArray)
	opTypeRuntimeArray  = uint32(nspirv.OpTypeRuntimeArray)
	opTypeStruct        = uint32(nspirv.OpTypeStruct)
	opTypePointer       = uint32(nspirv.OpTypePointer)
	opConstant          = uint32(nspirv.OpConstant)
	opConstantComposite = uint32(nspirv.OpConstantComposite)
	opVariable          = uint32(nspirv.OpVariable)
	opDecorate          = uint32(nspirv.OpDecorate)
	opMemberDecorate    = uint32(nspirv.OpMemberDecorate)
)

// Opcodes naga does not export; the SPIR-V unified registry values.
const (
	OpTypeImage              = 25
	OpTypeSampler            = 26
	OpTypeSampledImage       = 27
	opSpecConstant           = 50
	opSpecConstantComposite  = 51
	OpExecutionModeID        = 331
	opTypeAccelerationStruct = 5341
)

// Decorations.
const (
	decorationBlock         = uint32(nspirv.DecorationBlock)
	decorationBuiltIn       = uint32(nspirv.DecorationBuiltIn)
	decorationNonWritable   = uint32(nspirv.DecorationNonWritable)
	decorationBinding       = uint32(nspirv.DecorationBinding)
	decorationDescriptorSet = uint32(nspirv.DecorationDescriptorSet)

	// DecorationBufferBlock marks a Uniform block as a storage buffer in
	// SPIR-V before 1.3. naga never emits it.
	DecorationBufferBlock = 3
)

// Enumerants.
const (
	executionModelGLCompute  = uint32(nspirv.ExecutionModelGLCompute)
	executionModeLocalSize   = uint32(nspirv.ExecutionModeLocalSize)
	executionModeLocalSizeID = uint32(nspirv.ExecutionModeLocalSizeID)
	builtInWorkgroupSize     = int64(nspirv.BuiltInWorkgroupSize)

	storageUniformConstant = uint32(nspirv.StorageClassUniformConstant)
	storageUniform         = uint32(nspirv.StorageClassUniform)
	storageStorageBuffer   = uint32(nspirv.StorageClassStorageBuffer)
)

// IsSPIRV reports whether data starts with the SPIR-V magic number in
// either byte order.
func IsSPIRV(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(data) == Magic || binary.BigEndian.Uint32(data) == Magic
}

// Words converts a SPIR-V binary to host words, detecting the byte order
// from the magic number.
func Words(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: size %d is not a multiple of 4", ErrMalformed, len(data))
	}
	if len(data) < headerWords*4 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformed, len(data))
	}
	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(data) == Magic:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(data) == Magic:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad magic 0x%08X", ErrMalformed, binary.LittleEndian.Uint32(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = order.Uint32(data[i*4:])
	}
	return words, nil
}

// Bytes encodes words as a little-endian SPIR-V binary.
func Bytes(words []uint32) []byte {
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// normalize returns words in host order. A module whose first word is the
// byte-swapped magic number is swapped in place on a copy.
func normalize(words []uint32) ([]uint32, error) {
	if len(words) < headerWords {
		return nil, fmt.Errorf("%w: %d words is shorter than the header", ErrMalformed, len(words))
	}
	switch words[0] {
	case Magic:
		return words, nil
	case bits.ReverseBytes32(Magic):
		swapped := make([]uint32, len(words))
		for i, w := range words {
			swapped[i] = bits.ReverseBytes32(w)
		}
		return swapped, nil
	default:
		return nil, fmt.Errorf("%w: bad magic 0x%08X", ErrMalformed, words[0])
	}
}

// instruction is one decoded instruction: opcode and operands.
type instruction struct {
	op       uint32
	operands []uint32
}

// each walks the instruction stream after the header.
func each(words []uint32, fn func(inst instruction) error) error {
	for pc := headerWords; pc < len(words); {
		count := int(words[pc] >> 16)
		op := words[pc] & 0xFFFF
		if count == 0 {
			return fmt.Errorf("%w: zero-length instruction at word %d", ErrMalformed, pc)
		}
		if pc+count > len(words) {
			return fmt.Errorf("%w: instruction at word %d overruns module", ErrMalformed, pc)
		}
		if err := fn(instruction{op: op, operands: words[pc+1 : pc+count]}); err != nil {
			return err
		}
		pc += count
	}
	return nil
}

// literalString decodes a nul-terminated literal string and returns it with
// the number of words it occupies.
func literalString(operands []uint32) (string, int, error) {
	buf := make([]byte, 0, len(operands)*4)
	for i, w := range operands {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(buf), i + 1, nil
			}
			buf = append(buf, c)
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string", ErrMalformed)
}
