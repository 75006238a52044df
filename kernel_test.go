package gcl_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gcl"
	"github.com/gogpu/gcl/driver/soft"
	"github.com/gogpu/gcl/internal/spirv"
	"github.com/gogpu/gcl/internal/spirv/spirvtest"
)

func commandStrings(dev *soft.Device) []string {
	var out []string
	for _, c := range dev.LastCommands() {
		out = append(out, c.String())
	}
	return out
}

func TestAddEndToEnd(t *testing.T) {
	ctx, dev, _ := newTestContext(t, nil)
	k, a, b, out := newAddKernel(t, ctx, 16)

	as := make([]float32, 16)
	bs := make([]float32, 16)
	for i := range as {
		as[i] = float32(i)
		bs[i] = float32(2 * i)
	}
	if err := a.Send(as); err != nil {
		t.Fatalf("Send(a) error = %v", err)
	}
	if err := b.Send(bs); err != nil {
		t.Fatalf("Send(b) error = %v", err)
	}
	if err := k.Dispatch(16); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	got, err := out.Fetch()
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	for i, v := range got {
		if want := float32(3 * i); v != want {
			t.Errorf("out[%d] = %v, want %v", i, v, want)
		}
	}

	want := []string{
		"set-pipeline gcl_add_pipeline",
		"set-bind-group 0 gcl_add_bind_group",
		"dispatch 1 1 1",
	}
	if got := commandStrings(dev); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestKernelReflection(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	k, _, _, _ := newAddKernel(t, ctx, 4)

	if got := k.WorkgroupSize(); got != [3]uint32{256, 1, 1} {
		t.Errorf("WorkgroupSize() = %v", got)
	}
	if k.EntryPoint() != "main" {
		t.Errorf("EntryPoint() = %q, want main", k.EntryPoint())
	}
	if !k.HasDescriptors() {
		t.Error("HasDescriptors() = false")
	}

	var slots []uint32
	for _, b := range k.Bindings() {
		slots = append(slots, b.Binding)
	}
	if !slices.Equal(slots, []uint32{0, 1, 2}) {
		t.Errorf("Bindings() slots = %v", slots)
	}

	pool := k.PoolSizes()
	if pool[gcl.ReadOnlyStorageBuffer] != 2 || pool[gcl.StorageBuffer] != 1 || len(pool) != 2 {
		t.Errorf("PoolSizes() = %v", pool)
	}
}

func TestGroupCount(t *testing.T) {
	ctx, dev, _ := newTestContext(t, nil)
	k, _, _, _ := newAddKernel(t, ctx, 4)

	tests := []struct {
		elements uint32
		want     uint32
	}{
		{1, 1},
		{255, 1},
		{256, 1},
		{257, 2},
		{1 << 20, 4096},
		{^uint32(0), 1 << 24},
	}
	for _, tt := range tests {
		if got := k.GroupCount(tt.elements); got != tt.want {
			t.Errorf("GroupCount(%d) = %d, want %d", tt.elements, got, tt.want)
		}
	}

	if err := k.Dispatch(257); err != nil {
		t.Fatalf("Dispatch(257) error = %v", err)
	}
	cmds := commandStrings(dev)
	if len(cmds) == 0 || cmds[len(cmds)-1] != "dispatch 2 1 1" {
		t.Errorf("commands = %q, want dispatch 2 1 1 last", cmds)
	}

	if err := k.DispatchGroups(1, 3, 2); err != nil {
		t.Fatalf("DispatchGroups() error = %v", err)
	}
	cmds = commandStrings(dev)
	if cmds[len(cmds)-1] != "dispatch 1 3 2" {
		t.Errorf("commands = %q, want dispatch 1 3 2 last", cmds)
	}
}

func TestDispatchTooManyGroups(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	k, _, _, _ := newAddKernel(t, ctx, 4)
	if err := k.DispatchGroups(1, 70000, 1); !errors.Is(err, gcl.ErrDispatch) {
		t.Errorf("DispatchGroups(y=70000) error = %v, want ErrDispatch", err)
	}
}

func TestDispatchZeroIsNoop(t *testing.T) {
	ctx, dev, _ := newTestContext(t, nil)
	k, a, b, out := newAddKernel(t, ctx, 4)
	for _, buf := range []*gcl.Buffer[float32]{a, b} {
		if err := buf.Send([]float32{1, 1, 1, 1}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	want := []float32{5, 6, 7, 8}
	if err := out.Send(want); err != nil {
		t.Fatalf("Send(out) error = %v", err)
	}

	tests := []struct {
		name    string
		x, y, z uint32
	}{
		{"x", 0, 1, 1},
		{"y", 4, 0, 1},
		{"z", 4, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := dev.Submissions()
			if err := k.DispatchGroups(tt.x, tt.y, tt.z); err != nil {
				t.Fatalf("DispatchGroups() error = %v", err)
			}
			if got := dev.Submissions(); got != before {
				t.Errorf("Submissions() = %d, want %d", got, before)
			}
			got, err := out.Fetch()
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if !slices.Equal(got, want) {
				t.Errorf("out = %v, want %v unchanged", got, want)
			}
		})
	}
}

func TestBindingFreeKernel(t *testing.T) {
	ctx, dev, backend := newTestContext(t, nil)

	var calls int
	code := registerKernel(t, spirvtest.Kernel{LocalSize: [3]uint32{64, 1, 1}}, func(soft.Invocation) { calls++ })

	backend.Journal().Reset()
	k, err := gcl.NewKernelFromSPIRV(ctx, code, gcl.WithKernelLabel("empty"))
	if err != nil {
		t.Fatalf("NewKernelFromSPIRV() error = %v", err)
	}
	defer k.Destroy()

	if k.HasDescriptors() || len(k.Bindings()) != 0 || len(k.PoolSizes()) != 0 {
		t.Errorf("HasDescriptors() = %v, Bindings() = %v, PoolSizes() = %v", k.HasDescriptors(), k.Bindings(), k.PoolSizes())
	}
	for _, e := range backend.Journal().Events() {
		if strings.Contains(e, "bind-group") {
			t.Errorf("journal has %q for a binding-free kernel", e)
		}
	}

	if err := k.Dispatch(100); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("kernel ran %d times, want 1", calls)
	}
	want := []string{"set-pipeline gcl_empty_pipeline", "dispatch 2 1 1"}
	if got := commandStrings(dev); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestDispatchDeterministic(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	k, a, b, out := newAddKernel(t, ctx, 1000)

	as := make([]float32, 1000)
	bs := make([]float32, 1000)
	for i := range as {
		as[i] = float32(i) * 0.5
		bs[i] = float32(i%7) - 3
	}
	if err := a.Send(as); err != nil {
		t.Fatalf("Send(a) error = %v", err)
	}
	if err := b.Send(bs); err != nil {
		t.Fatalf("Send(b) error = %v", err)
	}

	var first []float32
	for run := range 5 {
		if err := k.Dispatch(1000); err != nil {
			t.Fatalf("Dispatch() run %d error = %v", run, err)
		}
		got, err := out.Fetch()
		if err != nil {
			t.Fatalf("Fetch() run %d error = %v", run, err)
		}
		if first == nil {
			first = got
			continue
		}
		if !slices.Equal(got, first) {
			t.Fatalf("run %d differs from run 0", run)
		}
	}
}

func TestConcurrentDispatchSerialized(t *testing.T) {
	ctx, dev, _ := newTestContext(t, nil)
	k, _, _, _ := newAddKernel(t, ctx, 512)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if err := k.Dispatch(512); err != nil {
					t.Errorf("Dispatch() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if got := dev.Submissions(); got != 80 {
		t.Errorf("Submissions() = %d, want 80", got)
	}
}

func TestBindErrors(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	k, a, _, _ := newAddKernel(t, ctx, 4)

	if err := k.Bind(7, a); !errors.Is(err, gcl.ErrUnknownBinding) {
		t.Errorf("Bind(7) error = %v, want ErrUnknownBinding", err)
	}

	other, _, _ := newTestContext(t, nil)
	foreign, _ := gcl.NewBuffer[float32](other, 4)
	if err := k.Bind(0, foreign); !errors.Is(err, gcl.ErrContextMismatch) {
		t.Errorf("Bind(foreign) error = %v, want ErrContextMismatch", err)
	}

	dead, _ := gcl.NewBuffer[float32](ctx, 4)
	dead.Destroy()
	if err := k.Bind(0, dead); !errors.Is(err, gcl.ErrBufferDestroyed) {
		t.Errorf("Bind(destroyed) error = %v, want ErrBufferDestroyed", err)
	}
}

func TestRebind(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	k, a, b, out := newAddKernel(t, ctx, 4)
	if err := a.Send([]float32{1, 1, 1, 1}); err != nil {
		t.Fatalf("Send(a) error = %v", err)
	}
	if err := b.Send([]float32{2, 2, 2, 2}); err != nil {
		t.Fatalf("Send(b) error = %v", err)
	}

	other, err := gcl.NewBuffer[float32](ctx, 4)
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	defer other.Destroy()
	if err := other.Send([]float32{10, 20, 30, 40}); err != nil {
		t.Fatalf("Send(other) error = %v", err)
	}
	if err := k.Bind(1, other); err != nil {
		t.Fatalf("Bind(1, other) error = %v", err)
	}
	if err := k.Dispatch(4); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	got, err := out.Fetch()
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if want := []float32{11, 21, 31, 41}; !slices.Equal(got, want) {
		t.Errorf("out = %v, want %v", got, want)
	}
}

func TestDispatchUnbound(t *testing.T) {
	ctx, dev, _ := newTestContext(t, nil)
	code := registerKernel(t, addModule, addFloats)
	k, err := gcl.NewKernelFromSPIRV(ctx, code)
	if err != nil {
		t.Fatalf("NewKernelFromSPIRV() error = %v", err)
	}
	defer k.Destroy()

	a, _ := gcl.NewBuffer[float32](ctx, 4)
	_ = k.Bind(0, a)

	err = k.Dispatch(4)
	if !errors.Is(err, gcl.ErrDispatch) || !errors.Is(err, gcl.ErrUnboundBinding) {
		t.Fatalf("Dispatch() error = %v, want ErrDispatch wrapping ErrUnboundBinding", err)
	}
	if !strings.Contains(err.Error(), "[1 2]") {
		t.Errorf("error %q does not name the unbound slots", err)
	}
	if dev.Submissions() != 0 {
		t.Errorf("Submissions() = %d, want 0", dev.Submissions())
	}
}

func TestDispatchDestroyedBuffer(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	k, a, _, _ := newAddKernel(t, ctx, 4)
	a.Destroy()
	if err := k.Dispatch(4); !errors.Is(err, gcl.ErrDispatch) || !errors.Is(err, gcl.ErrBufferDestroyed) {
		t.Errorf("Dispatch() error = %v, want ErrDispatch wrapping ErrBufferDestroyed", err)
	}
}

func TestDispatchTimeout(t *testing.T) {
	ctx, _, _ := newTestContext(t, []soft.Option{soft.WithFaults(soft.Faults{Hang: true})})
	k, _, _, _ := newAddKernel(t, ctx, 4)

	c, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := k.DispatchContext(c, 4, 1, 1)
	if !errors.Is(err, gcl.ErrTimeout) {
		t.Fatalf("DispatchContext() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("DispatchContext() took %v", elapsed)
	}
}

func TestDispatchCanceled(t *testing.T) {
	ctx, _, _ := newTestContext(t, []soft.Option{soft.WithFaults(soft.Faults{Hang: true})})
	k, _, _, _ := newAddKernel(t, ctx, 4)

	c, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	err := k.DispatchContext(c, 4, 1, 1)
	if !errors.Is(err, gcl.ErrDispatch) || !errors.Is(err, context.Canceled) {
		t.Errorf("DispatchContext() error = %v, want ErrDispatch wrapping context.Canceled", err)
	}
}

// waitSubmissions blocks until dev has seen n submissions.
func waitSubmissions(t *testing.T, dev *soft.Device, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for dev.Submissions() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Submissions() = %d, want %d", dev.Submissions(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatchDoneWhileQueued(t *testing.T) {
	tests := []struct {
		name  string
		ctx   func() (context.Context, context.CancelFunc)
		kind  error
		cause error
	}{
		{
			name: "deadline",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 20*time.Millisecond)
			},
			kind:  gcl.ErrTimeout,
			cause: context.DeadlineExceeded,
		},
		{
			name: "canceled",
			ctx: func() (context.Context, context.CancelFunc) {
				c, cancel := context.WithCancel(context.Background())
				time.AfterFunc(10*time.Millisecond, cancel)
				return c, cancel
			},
			kind:  gcl.ErrDispatch,
			cause: context.Canceled,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, dev, _ := newTestContext(t, []soft.Option{soft.WithFaults(soft.Faults{Hang: true})})
			k, _, _, _ := newAddKernel(t, ctx, 4)

			// The first dispatch holds the execution token until it times out.
			holder, release := context.WithTimeout(context.Background(), 300*time.Millisecond)
			defer release()
			done := make(chan error, 1)
			go func() { done <- k.DispatchContext(holder, 4, 1, 1) }()
			waitSubmissions(t, dev, 1)

			c, cancel := tt.ctx()
			defer cancel()
			err := k.DispatchContext(c, 4, 1, 1)
			if !errors.Is(err, tt.kind) || !errors.Is(err, tt.cause) {
				t.Errorf("queued DispatchContext() error = %v, want %v wrapping %v", err, tt.kind, tt.cause)
			}
			if got := dev.Submissions(); got != 1 {
				t.Errorf("Submissions() = %d, want 1", got)
			}
			if err := <-done; !errors.Is(err, gcl.ErrTimeout) {
				t.Errorf("holding DispatchContext() error = %v, want ErrTimeout", err)
			}
		})
	}
}

func TestDestroyWaitsForTimedOutDispatch(t *testing.T) {
	tests := []struct {
		name         string
		kernelFirst  bool
		firstRelease string
	}{
		{"kernel", true, "destroy bind-group gcl_add_bind_group"},
		{"buffer", false, "destroy buffer gcl_buffer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, _, backend := newTestContext(t, []soft.Option{soft.WithFaults(soft.Faults{Hang: true})})
			k, _, _, out := newAddKernel(t, ctx, 4)

			c, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			if err := k.DispatchContext(c, 4, 1, 1); !errors.Is(err, gcl.ErrTimeout) {
				t.Fatalf("DispatchContext() error = %v, want ErrTimeout", err)
			}

			backend.Journal().Reset()
			if tt.kernelFirst {
				k.Destroy()
				out.Destroy()
			} else {
				out.Destroy()
				k.Destroy()
			}

			events := backend.Journal().Events()
			if len(events) < 2 || events[0] != "wait idle" || events[1] != tt.firstRelease {
				t.Fatalf("journal = %q, want wait idle then %q", events, tt.firstRelease)
			}
			var idles int
			for _, e := range events {
				if e == "wait idle" {
					idles++
				}
			}
			if idles != 1 {
				t.Errorf("journal has %d wait idle events, want 1: %q", idles, events)
			}
		})
	}
}

func TestRebindWaitsForTimedOutDispatch(t *testing.T) {
	ctx, _, backend := newTestContext(t, []soft.Option{soft.WithFaults(soft.Faults{Hang: true})})
	k, _, _, _ := newAddKernel(t, ctx, 4)

	c, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := k.DispatchContext(c, 4, 1, 1); !errors.Is(err, gcl.ErrTimeout) {
		t.Fatalf("DispatchContext() error = %v, want ErrTimeout", err)
	}

	other, err := gcl.NewBuffer[float32](ctx, 4)
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	defer other.Destroy()

	backend.Journal().Reset()
	if err := k.Bind(1, other); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	events := backend.Journal().Events()
	want := []string{
		"create bind-group gcl_add_bind_group",
		"wait idle",
		"destroy bind-group gcl_add_bind_group",
	}
	if !slices.Equal(events, want) {
		t.Errorf("journal = %q, want %q", events, want)
	}
}

func TestSendPrefixKeepsKernelOutput(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	k, a, b, out := newAddKernel(t, ctx, 4)
	if err := a.Send([]float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("Send(a) error = %v", err)
	}
	if err := b.Send([]float32{10, 20, 30, 40}); err != nil {
		t.Fatalf("Send(b) error = %v", err)
	}
	if err := k.Dispatch(4); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if err := out.Send([]float32{100}); err != nil {
		t.Fatalf("Send(out) error = %v", err)
	}
	got, err := out.Fetch()
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if want := []float32{100, 22, 33, 44}; !slices.Equal(got, want) {
		t.Errorf("out = %v, want %v", got, want)
	}
}

func TestDispatchSubmitFailure(t *testing.T) {
	boom := errors.New("queue lost")
	ctx, _, _ := newTestContext(t, []soft.Option{soft.WithFaults(soft.Faults{Submit: boom})})
	k, _, _, _ := newAddKernel(t, ctx, 4)
	if err := k.Dispatch(4); !errors.Is(err, gcl.ErrDispatch) || !errors.Is(err, boom) {
		t.Errorf("Dispatch() error = %v, want ErrDispatch wrapping %v", err, boom)
	}
}

func TestKernelPipelineErrors(t *testing.T) {
	boom := errors.New("rejected")
	tests := []struct {
		name   string
		faults soft.Faults
	}{
		{"shader module", soft.Faults{CreateShaderModule: boom}},
		{"layout", soft.Faults{CreateBindGroupLayout: boom}},
		{"pipeline", soft.Faults{CreatePipeline: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, dev, _ := newTestContext(t, []soft.Option{soft.WithFaults(tt.faults)})
			code := registerKernel(t, addModule, addFloats)
			_, err := gcl.NewKernelFromSPIRV(ctx, code)
			if !errors.Is(err, gcl.ErrPipeline) || !errors.Is(err, boom) {
				t.Errorf("NewKernelFromSPIRV() error = %v, want ErrPipeline wrapping %v", err, boom)
			}
			// Only the context's encoder and fence remain.
			if n := dev.LiveResources(); n != 2 {
				t.Errorf("LiveResources() = %d, want 2", n)
			}
		})
	}
}

func TestKernelWithoutImplementation(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	code := spirvtest.Compute(spirvtest.Kernel{Tag: 1})
	_, err := gcl.NewKernelFromSPIRV(ctx, code)
	if !errors.Is(err, gcl.ErrPipeline) || !errors.Is(err, soft.ErrNoKernel) {
		t.Errorf("NewKernelFromSPIRV() error = %v, want ErrPipeline wrapping ErrNoKernel", err)
	}
}

func TestKernelReflectionErrors(t *testing.T) {
	tests := []struct {
		name  string
		code  []uint32
		opts  []gcl.KernelOption
		cause error
	}{
		{
			name:  "not spirv",
			code:  []uint32{0xdeadbeef, 0, 0, 0, 0},
			cause: spirv.ErrMalformed,
		},
		{
			name: "set 1",
			code: spirvtest.Compute(spirvtest.Kernel{Bindings: []spirvtest.Binding{
				{Set: 1, Binding: 0, Kind: spirv.StorageBuffer},
			}}),
		},
		{
			name: "image binding",
			code: spirvtest.Compute(spirvtest.Kernel{Bindings: []spirvtest.Binding{
				{Binding: 0, Kind: spirv.StorageImage},
			}}),
			cause: spirv.ErrUnsupportedKind,
		},
		{
			name: "runtime array of buffers",
			code: spirvtest.Compute(spirvtest.Kernel{Bindings: []spirvtest.Binding{
				{Binding: 0, Kind: spirv.StorageBuffer, Runtime: true},
			}}),
			cause: spirv.ErrUnsupportedCount,
		},
		{
			name:  "unknown entry point",
			code:  spirvtest.Compute(spirvtest.Kernel{EntryPoint: "other"}),
			opts:  []gcl.KernelOption{gcl.WithEntryPoint("main")},
			cause: spirv.ErrEntryNotFound,
		},
	}

	ctx, _, _ := newTestContext(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gcl.NewKernelFromSPIRV(ctx, tt.code, tt.opts...)
			if !errors.Is(err, gcl.ErrReflection) {
				t.Fatalf("error = %v, want ErrReflection", err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Errorf("error = %v, want cause %v", err, tt.cause)
			}
		})
	}
}

func TestKernelValidationLimits(t *testing.T) {
	module := spirvtest.Kernel{LocalSize: [3]uint32{32, 32, 1}}
	code := registerKernel(t, module, func(soft.Invocation) {})

	loose, _, _ := newTestContext(t, nil)
	k, err := gcl.NewKernelFromSPIRV(loose, code)
	if err != nil {
		t.Fatalf("without validation error = %v", err)
	}
	k.Destroy()

	strict, _, _ := newTestContext(t, nil, gcl.WithValidation(true))
	if _, err := gcl.NewKernelFromSPIRV(strict, code); !errors.Is(err, gcl.ErrReflection) {
		t.Errorf("with validation error = %v, want ErrReflection for 1024 invocations", err)
	}
}

func TestKernelDestroyOrder(t *testing.T) {
	ctx, dev, backend := newTestContext(t, nil)
	k, _, _, _ := newAddKernel(t, ctx, 4)
	live := dev.LiveResources()

	backend.Journal().Reset()
	k.Destroy()
	k.Destroy()

	want := []string{
		"destroy bind-group gcl_add_bind_group",
		"destroy bind-group-layout gcl_add_layout",
		"destroy compute-pipeline gcl_add_pipeline",
		"destroy pipeline-layout gcl_add_pipeline_layout",
		"destroy shader-module gcl_add_shader",
	}
	if got := backend.Journal().Events(); !slices.Equal(got, want) {
		t.Errorf("journal = %q\nwant %q", got, want)
	}
	if got := dev.LiveResources(); got != live-5 {
		t.Errorf("LiveResources() = %d, want %d", got, live-5)
	}
	if k.PoolSizes() != nil {
		t.Error("PoolSizes() != nil after Destroy")
	}
	if err := k.Dispatch(4); !errors.Is(err, gcl.ErrKernelDestroyed) || errors.Is(err, gcl.ErrDispatch) {
		t.Errorf("Dispatch() after Destroy error = %v, want ErrKernelDestroyed", err)
	}
}

func TestBindDestroyedKernel(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	k, a, _, _ := newAddKernel(t, ctx, 4)
	k.Destroy()

	err := k.Bind(0, a)
	if !errors.Is(err, gcl.ErrKernelDestroyed) {
		t.Fatalf("Bind() after Destroy error = %v, want ErrKernelDestroyed", err)
	}
	if errors.Is(err, gcl.ErrDispatch) {
		t.Errorf("Bind() after Destroy error = %v matches ErrDispatch", err)
	}
	var gerr *gcl.Error
	if !errors.As(err, &gerr) || gerr.Op != "bind" {
		t.Errorf("Bind() after Destroy error = %#v, want op bind", err)
	}
}

func TestNewKernelFromFile(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	dir := t.TempDir()

	code := registerKernel(t, addModule, addFloats)
	path := filepath.Join(dir, "add.spv")
	if err := os.WriteFile(path, spirv.Bytes(code), 0o600); err != nil {
		t.Fatal(err)
	}

	k, err := gcl.NewKernel(ctx, path)
	if err != nil {
		t.Fatalf("NewKernel() error = %v", err)
	}
	defer k.Destroy()
	if k.Label() != "gcl_add" {
		t.Errorf("Label() = %q, want gcl_add", k.Label())
	}

	garbage := filepath.Join(dir, "garbage.spv")
	if err := os.WriteFile(garbage, []byte("not a kernel"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := gcl.NewKernel(ctx, garbage); !errors.Is(err, gcl.ErrReflection) {
		t.Errorf("NewKernel(garbage) error = %v, want ErrReflection", err)
	}

	if _, err := gcl.NewKernel(ctx, dir); !errors.Is(err, gcl.ErrIO) {
		t.Errorf("NewKernel(directory) error = %v, want ErrIO", err)
	}
}

func TestNewKernelMissingFile(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	_, err := gcl.NewKernel(ctx, filepath.Join(t.TempDir(), "missing.spv"))
	if !errors.Is(err, gcl.ErrNotFound) {
		t.Fatalf("NewKernel(missing) error = %v, want ErrNotFound", err)
	}

	// The context still loads and runs a kernel from disk.
	code := registerKernel(t, addModule, addFloats)
	path := filepath.Join(t.TempDir(), "add.spv")
	if err := os.WriteFile(path, spirv.Bytes(code), 0o600); err != nil {
		t.Fatal(err)
	}
	k, err := gcl.NewKernel(ctx, path)
	if err != nil {
		t.Fatalf("NewKernel() after failed load error = %v", err)
	}
	defer k.Destroy()

	bufs := make([]*gcl.Buffer[float32], 3)
	for i := range bufs {
		buf, err := gcl.NewBuffer[float32](ctx, 2)
		if err != nil {
			t.Fatalf("NewBuffer() error = %v", err)
		}
		defer buf.Destroy()
		if err := k.Bind(uint32(i), buf); err != nil {
			t.Fatalf("Bind(%d) error = %v", i, err)
		}
		bufs[i] = buf
	}
	if err := bufs[0].Send([]float32{1, 2}); err != nil {
		t.Fatalf("Send(a) error = %v", err)
	}
	if err := bufs[1].Send([]float32{3, 4}); err != nil {
		t.Fatalf("Send(b) error = %v", err)
	}
	if err := k.Dispatch(2); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	got, err := bufs[2].Fetch()
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if want := []float32{4, 6}; !slices.Equal(got, want) {
		t.Errorf("out = %v, want %v", got, want)
	}
}

func TestNewKernelFromWGSLCompileError(t *testing.T) {
	ctx, _, _ := newTestContext(t, nil)
	_, err := gcl.NewKernelFromWGSL(ctx, "this is not wgsl")
	if !errors.Is(err, gcl.ErrPipeline) {
		t.Errorf("NewKernelFromWGSL(garbage) error = %v, want ErrPipeline", err)
	}
}

func BenchmarkDispatch(b *testing.B) {
	for _, n := range []int{256, 1 << 16} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			ctx, _, _ := newTestContext(b, nil)
			k, _, _, _ := newAddKernel(b, ctx, n)
			for b.Loop() {
				if err := k.Dispatch(uint32(n)); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSendFetch(b *testing.B) {
	ctx, _, _ := newTestContext(b, nil)
	buf, _ := gcl.NewBuffer[float32](ctx, 1<<16)
	data := make([]float32, 1<<16)
	dst := make([]float32, 1<<16)
	b.SetBytes(int64(buf.Size()) * 2)
	for b.Loop() {
		if err := buf.Send(data); err != nil {
			b.Fatal(err)
		}
		if err := buf.FetchInto(dst); err != nil {
			b.Fatal(err)
		}
	}
}

