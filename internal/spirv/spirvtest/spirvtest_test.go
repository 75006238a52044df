package spirvtest_test

import (
	"testing"

	nspirv "github.com/gogpu/naga/spirv"

	"github.com/gogpu/gcl/internal/spirv"
	"github.com/gogpu/gcl/internal/spirv/spirvtest"
)

// opcodes returns the opcode of every instruction after the header.
func opcodes(t *testing.T, words []uint32) []uint32 {
	t.Helper()
	var ops []uint32
	for pc := 5; pc < len(words); {
		n := int(words[pc] >> 16)
		if n == 0 || pc+n > len(words) {
			t.Fatalf("bad instruction at word %d", pc)
		}
		ops = append(ops, words[pc]&0xFFFF)
		pc += n
	}
	return ops
}

func indexOf(ops []uint32, op uint32) int {
	for i, o := range ops {
		if o == op {
			return i
		}
	}
	return -1
}

func TestComputeLayout(t *testing.T) {
	code := spirvtest.Compute(spirvtest.Kernel{
		LocalSize:   [3]uint32{8, 8, 1},
		LocalSizeID: true,
		Bindings: []spirvtest.Binding{
			{Binding: 0, Kind: spirv.CombinedImageSampler},
			{Binding: 1, Kind: spirv.StorageBuffer, Legacy: true},
		},
	})
	if code[0] != nspirv.MagicNumber {
		t.Fatalf("magic = 0x%08X, want 0x%08X", code[0], nspirv.MagicNumber)
	}
	if code[1] != 0x00010300 {
		t.Errorf("version = 0x%08X, want 1.3", code[1])
	}

	ops := opcodes(t, code)
	entry := indexOf(ops, uint32(nspirv.OpEntryPoint))
	mode := indexOf(ops, spirv.OpExecutionModeID)
	float := indexOf(ops, uint32(nspirv.OpTypeFloat))
	image := indexOf(ops, spirv.OpTypeImage)
	sampled := indexOf(ops, spirv.OpTypeSampledImage)
	pointer := indexOf(ops, uint32(nspirv.OpTypePointer))

	if entry < 0 || mode != entry+1 {
		t.Errorf("OpExecutionModeId at %d, want right after OpEntryPoint at %d", mode, entry)
	}
	if !(float < image && image < sampled && sampled < pointer) {
		t.Errorf("float %d, image %d, sampled image %d, pointer %d: want that order", float, image, sampled, pointer)
	}

	r, err := spirv.Reflect(code, "main")
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if r.WorkgroupSize != [3]uint32{8, 8, 1} {
		t.Errorf("WorkgroupSize = %v, want [8 8 1]", r.WorkgroupSize)
	}
	if len(r.Bindings) != 2 || r.Bindings[0].Kind != spirv.CombinedImageSampler || r.Bindings[1].Kind != spirv.StorageBuffer {
		t.Errorf("Bindings = %+v", r.Bindings)
	}
}

func TestComputeDistinctTags(t *testing.T) {
	a := spirvtest.Binary(spirvtest.Kernel{Tag: 1001})
	b := spirvtest.Binary(spirvtest.Kernel{Tag: 1002})
	if string(a) == string(b) {
		t.Error("modules with different tags are identical")
	}
	if again := spirvtest.Binary(spirvtest.Kernel{Tag: 1001}); string(again) != string(a) {
		t.Error("assembling the same kernel twice differs")
	}
}
