package kernels

import (
	"context"
	"fmt"
	"math"

	"github.com/gogpu/gcl"
	"github.com/gogpu/gcl/driver"
)

// Program is a sample kernel with its buffers allocated, filled and bound.
type Program struct {
	Spec   Spec
	Kernel *gcl.Kernel
	A      *gcl.Buffer[float32]
	B      *gcl.Buffer[float32]
	Out    *gcl.Buffer[float32]
	Params *gcl.Buffer[uint32]

	n       int
	inputsA []float32
	inputsB []float32
}

// Prepare compiles s and binds it to n-element buffers on ctx.
func Prepare(ctx *gcl.Context, s Spec, n int) (*Program, error) {
	code, err := s.SPIRV()
	if err != nil {
		return nil, err
	}
	return PrepareSPIRV(ctx, s, code, n)
}

// PrepareSPIRV is like Prepare but uses already compiled code. On the
// software backend s is registered as the implementation of code.
func PrepareSPIRV(ctx *gcl.Context, s Spec, code []uint32, n int) (*Program, error) {
	if n <= 0 {
		return nil, fmt.Errorf("kernels: %s: element count %d", s.Name, n)
	}
	if ctx.Backend() == driver.BackendSoftware {
		s.RegisterSoft(code)
	}

	p := &Program{Spec: s, n: n}
	var err error
	p.Kernel, err = gcl.NewKernelFromSPIRV(ctx, code, gcl.WithKernelLabel(s.Name))
	if err != nil {
		return nil, err
	}
	if p.A, err = gcl.NewBuffer[float32](ctx, n); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.B, err = gcl.NewBuffer[float32](ctx, n); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.Out, err = gcl.NewBuffer[float32](ctx, n); err != nil {
		p.Destroy()
		return nil, err
	}
	// A uniform block is at least 16 bytes.
	if p.Params, err = gcl.NewBuffer[uint32](ctx, 4); err != nil {
		p.Destroy()
		return nil, err
	}

	p.inputsA, p.inputsB = s.Inputs(n)
	steps := []func() error{
		func() error { return p.A.Send(p.inputsA) },
		func() error { return p.B.Send(p.inputsB) },
		func() error { return p.Params.Send([]uint32{uint32(n)}) },
		func() error { return p.Kernel.Bind(BindingA, p.A) },
		func() error { return p.Kernel.Bind(BindingB, p.B) },
		func() error { return p.Kernel.Bind(BindingOut, p.Out) },
		func() error { return p.Kernel.Bind(BindingParams, p.Params) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			p.Destroy()
			return nil, err
		}
	}
	return p, nil
}

// Elements returns the element count.
func (p *Program) Elements() int { return p.n }

// Dispatch runs the kernel once over all elements.
func (p *Program) Dispatch(ctx context.Context) error {
	return p.Kernel.DispatchContext(ctx, uint32(p.n), 1, 1)
}

// Result fetches the output buffer.
func (p *Program) Result() ([]float32, error) {
	return p.Out.Fetch()
}

// Verify fetches the output and compares it with the CPU reference. It
// returns the number of elements off by more than tol (relative to
// max(1, |want|)) and the largest such error.
func (p *Program) Verify(tol float64) (mismatches int, maxErr float64, err error) {
	got, err := p.Result()
	if err != nil {
		return 0, 0, err
	}
	want := make([]float32, p.n)
	p.Spec.CPU(p.inputsA, p.inputsB, want)
	for i := range want {
		diff := math.Abs(float64(got[i]-want[i])) / math.Max(1, math.Abs(float64(want[i])))
		maxErr = math.Max(maxErr, diff)
		if diff > tol {
			mismatches++
		}
	}
	return mismatches, maxErr, nil
}

// Destroy releases the kernel and buffers.
func (p *Program) Destroy() {
	if p.Kernel != nil {
		p.Kernel.Destroy()
	}
	for _, b := range []*gcl.Buffer[float32]{p.A, p.B, p.Out} {
		if b != nil {
			b.Destroy()
		}
	}
	if p.Params != nil {
		p.Params.Destroy()
	}
}
