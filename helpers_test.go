package gcl_test

import (
	"sync/atomic"
	"testing"

	"github.com/gogpu/gcl"
	"github.com/gogpu/gcl/driver/soft"
	"github.com/gogpu/gcl/internal/spirv"
	"github.com/gogpu/gcl/internal/spirv/spirvtest"
)

// newTestContext opens a context on a fresh software backend.
func newTestContext(t testing.TB, backendOpts []soft.Option, opts ...gcl.Option) (*gcl.Context, *soft.Device, *soft.Backend) {
	t.Helper()
	backend := soft.NewBackend(backendOpts...)
	ctx, err := gcl.New(append([]gcl.Option{gcl.WithDriver(backend)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(ctx.Destroy)
	dev, ok := ctx.Device().(*soft.Device)
	if !ok {
		t.Fatalf("Device() = %T, want *soft.Device", ctx.Device())
	}
	return ctx, dev, backend
}

var nextTag atomic.Uint32

// registerKernel assembles k with a tag unique to this test binary and
// registers fn as its implementation.
func registerKernel(t testing.TB, k spirvtest.Kernel, fn soft.KernelFunc) []uint32 {
	t.Helper()
	k.Tag = 1000 + nextTag.Add(1)
	code := spirvtest.Compute(k)
	soft.RegisterKernel(code, fn)
	t.Cleanup(func() { soft.UnregisterKernel(code) })
	return code
}

// addModule declares out[i] = a[i] + b[i] with 256-wide workgroups.
var addModule = spirvtest.Kernel{
	LocalSize: [3]uint32{256, 1, 1},
	Bindings: []spirvtest.Binding{
		{Binding: 0, Kind: spirv.ReadOnlyStorageBuffer, Name: "a"},
		{Binding: 1, Kind: spirv.ReadOnlyStorageBuffer, Name: "b"},
		{Binding: 2, Kind: spirv.StorageBuffer, Name: "out"},
	},
}

func addFloats(inv soft.Invocation) {
	a, b, out := inv.Float32s(0), inv.Float32s(1), inv.Float32s(2)
	n := inv.Threads(256, min(len(a), len(b), len(out)))
	for i := range n {
		out[i] = a[i] + b[i]
	}
}

// newAddKernel builds the add kernel and three bound buffers of n floats.
func newAddKernel(t testing.TB, ctx *gcl.Context, n int) (k *gcl.Kernel, a, b, out *gcl.Buffer[float32]) {
	t.Helper()
	code := registerKernel(t, addModule, addFloats)
	k, err := gcl.NewKernelFromSPIRV(ctx, code, gcl.WithKernelLabel("add"))
	if err != nil {
		t.Fatalf("NewKernelFromSPIRV() error = %v", err)
	}
	t.Cleanup(k.Destroy)

	bufs := make([]*gcl.Buffer[float32], 3)
	for i := range bufs {
		buf, err := gcl.NewBuffer[float32](ctx, n)
		if err != nil {
			t.Fatalf("NewBuffer() error = %v", err)
		}
		t.Cleanup(buf.Destroy)
		if err := k.Bind(uint32(i), buf); err != nil {
			t.Fatalf("Bind(%d) error = %v", i, err)
		}
		bufs[i] = buf
	}
	return k, bufs[0], bufs[1], bufs[2]
}
