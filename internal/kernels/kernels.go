// Package kernels holds the sample compute kernels of the gcl command: WGSL
// sources, their CPU reference implementations and matching software-driver
// kernels.
//
// Every sample reads a and b from bindings 0 and 1, writes out at binding
// 2, and takes the element count in a uniform at binding 3.
package kernels

import (
	"embed"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/gogpu/gcl/driver/soft"
	"github.com/gogpu/gcl/internal/spirv"
)

//go:embed wgsl/*.wgsl
var sources embed.FS

// WorkgroupSize is the x workgroup size of every sample kernel.
const WorkgroupSize = 256

// softChunk is the number of elements one software worker evaluates.
const softChunk = 64 * WorkgroupSize

// Binding slots shared by the samples.
const (
	BindingA      = 0
	BindingB      = 1
	BindingOut    = 2
	BindingParams = 3
)

// ErrUnknownKernel is returned by Lookup for names not in the catalog.
var ErrUnknownKernel = errors.New("kernels: unknown kernel")

// Spec is one sample kernel.
type Spec struct {
	Name        string
	Description string

	// Eval computes out[i] from a[i] and b[i].
	Eval func(x, y float32, i uint32) float32

	// Inputs fills a and b for n elements.
	Inputs func(n int) (a, b []float32)
}

var catalog = []Spec{
	{
		Name:        "add",
		Description: "element-wise sum of two vectors",
		Eval:        func(x, y float32, _ uint32) float32 { return x + y },
		Inputs: func(n int) ([]float32, []float32) {
			a, b := make([]float32, n), make([]float32, n)
			for i := range n {
				a[i] = float32(i)
				b[i] = float32(i) * 2
			}
			return a, b
		},
	},
	{
		Name:        "heavy",
		Description: "fused multiply-add polynomial, scaled on i&7",
		Eval: func(x, y float32, i uint32) float32 {
			if i&7 < 3 {
				return poly(x, y)
			}
			return poly(x*0.5, y*1.5)
		},
		Inputs: unitInputs,
	},
	{
		Name:        "branch",
		Description: "three-way data-dependent branch",
		Eval: func(x, y float32, _ uint32) float32 {
			switch {
			case x > 0.5:
				return float32(math.Sqrt(float64(x)))*y + 1
			case x > 0.25:
				return x*y - 0.5
			default:
				return (x + 0.001) * (y - 0.001)
			}
		},
		Inputs: unitInputs,
	},
}

// unitInputs spreads a over [0, 1) and cycles b over [0, 1.024).
func unitInputs(n int) ([]float32, []float32) {
	a, b := make([]float32, n), make([]float32, n)
	for i := range n {
		a[i] = float32(i) / float32(n)
		b[i] = float32(i%1024) * 0.001
	}
	return a, b
}

func fma32(x, y, z float32) float32 {
	return float32(math.FMA(float64(x), float64(y), float64(z)))
}

func poly(x, y float32) float32 {
	var acc float32
	acc = fma32(x, y, acc)
	acc = fma32(x*x, 0.25, acc)
	acc = fma32(y*y, 0.125, acc)
	acc = fma32(x*y, 0.0625, acc)
	acc = fma32(x+y, 0.03125, acc)
	for range 8 {
		acc = acc*0.985123 + 0.314159
	}
	return acc
}

// Names returns the kernel names in catalog order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, s := range catalog {
		names[i] = s.Name
	}
	return names
}

// Lookup returns the named kernel.
func Lookup(name string) (Spec, error) {
	i := slices.IndexFunc(catalog, func(s Spec) bool { return s.Name == name })
	if i < 0 {
		return Spec{}, fmt.Errorf("%w: %q (have %v)", ErrUnknownKernel, name, Names())
	}
	return catalog[i], nil
}

// Source returns the WGSL source of the kernel.
func (s Spec) Source() (string, error) {
	data, err := sources.ReadFile("wgsl/" + s.Name + ".wgsl")
	if err != nil {
		return "", fmt.Errorf("kernels: %s source: %w", s.Name, err)
	}
	return string(data), nil
}

// SPIRV returns the kernel compiled to SPIR-V.
func (s Spec) SPIRV() ([]uint32, error) {
	src, err := s.Source()
	if err != nil {
		return nil, err
	}
	code, err := spirv.CompileWGSL(src)
	if err != nil {
		return nil, fmt.Errorf("kernels: compile %s: %w", s.Name, err)
	}
	return code, nil
}

// CPU computes the kernel on the host.
func (s Spec) CPU(a, b, out []float32) {
	n := min(len(a), len(b), len(out))
	for i := range n {
		out[i] = s.Eval(a[i], b[i], uint32(i))
	}
}

// RegisterSoft makes the software driver run s for pipelines created from
// code.
func (s Spec) RegisterSoft(code []uint32) {
	soft.RegisterKernel(code, s.softKernel)
}

func (s Spec) softKernel(inv soft.Invocation) {
	a, b, out := inv.Float32s(BindingA), inv.Float32s(BindingB), inv.Float32s(BindingOut)
	params := inv.Uint32s(BindingParams)
	if len(params) == 0 {
		return
	}
	n := inv.Threads(WorkgroupSize, min(int(params[0]), len(a), len(b), len(out)))
	soft.Range(n, softChunk, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i] = s.Eval(a[i], b[i], uint32(i))
		}
	})
}
