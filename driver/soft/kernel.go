package soft

import (
	"encoding/binary"
	"hash/fnv"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"
)

// KernelFunc executes one dispatch of a compute pipeline.
type KernelFunc func(inv Invocation)

// Invocation is the state a KernelFunc sees: the dispatched group counts and
// the bound byte range of every binding in bind group 0.
type Invocation struct {
	Groups  [3]uint32
	Buffers map[uint32][]byte
}

// Threads returns the number of invocations along x for a workgroup width,
// clamped to n.
func (inv Invocation) Threads(workgroupX uint32, n int) int {
	return min(int(inv.Groups[0])*int(workgroupX), n)
}

// Range calls fn for consecutive [lo, hi) chunks of [0, n), each at most
// chunk long, on up to GOMAXPROCS goroutines. It returns once every chunk
// has run. Chunks must not write overlapping memory.
func Range(n, chunk int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	chunk = max(chunk, 1)
	if n <= chunk {
		fn(0, n)
		return
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}

// Float32s views binding as float32 values.
func (inv Invocation) Float32s(binding uint32) []float32 {
	return view[float32](inv.Buffers[binding])
}

// Uint32s views binding as uint32 values.
func (inv Invocation) Uint32s(binding uint32) []uint32 {
	return view[uint32](inv.Buffers[binding])
}

// Int32s views binding as int32 values.
func (inv Invocation) Int32s(binding uint32) []int32 {
	return view[int32](inv.Buffers[binding])
}

func view[T float32 | uint32 | int32](b []byte) []T {
	n := len(b) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

var kernels sync.Map // uint64 -> KernelFunc

// Fingerprint identifies a SPIR-V module by content (FNV-1a over its
// little-endian words).
func Fingerprint(code []uint32) uint64 {
	h := fnv.New64a()
	var buf [4]byte
	for _, w := range code {
		binary.LittleEndian.PutUint32(buf[:], w)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// RegisterKernel associates fn with the module code. Pipelines created from
// an identical module afterwards execute fn. Registering again replaces fn.
func RegisterKernel(code []uint32, fn KernelFunc) {
	kernels.Store(Fingerprint(code), fn)
}

// UnregisterKernel removes the function registered for code.
func UnregisterKernel(code []uint32) {
	kernels.Delete(Fingerprint(code))
}

func lookupKernel(fingerprint uint64) (KernelFunc, bool) {
	v, ok := kernels.Load(fingerprint)
	if !ok {
		return nil, false
	}
	return v.(KernelFunc), true
}
