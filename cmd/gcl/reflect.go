package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gogpu/gcl/internal/kernels"
	"github.com/gogpu/gcl/internal/spirv"
)

func newReflectCmd() *cobra.Command {
	var entry string
	cmd := &cobra.Command{
		Use:   "reflect <kernel.spv|kernel.wgsl|sample>",
		Short: "Show the entry point, workgroup size and bindings of a kernel",
		Long: `Reflect a compute kernel without opening a device.

The argument is a SPIR-V binary, a WGSL source file (compiled first) or the
name of a bundled sample kernel (` + strings.Join(kernels.Names(), ", ") + `).
gcl binds descriptor set 0 only; bindings in other sets are listed but
would be rejected when the kernel is loaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := loadCode(args[0])
			if err != nil {
				return err
			}
			r, err := spirv.Reflect(code, entry)
			if err != nil {
				return fmt.Errorf("reflecting %s: %w", args[0], err)
			}
			printReflection(cmd.OutOrStdout(), r)
			return nil
		},
	}
	cmd.Flags().StringVar(&entry, "entry", "", "entry point (default: first compute entry point)")
	return cmd
}

// loadCode returns the SPIR-V words of a sample kernel name or a kernel file.
func loadCode(arg string) ([]uint32, error) {
	if s, err := kernels.Lookup(arg); err == nil {
		return s.SPIRV()
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(arg), ".wgsl") {
		return spirv.CompileWGSL(string(data))
	}
	return spirv.Words(data)
}

func printReflection(out io.Writer, r *spirv.Reflection) {
	fmt.Fprintf(out, "entry point: %s\n", r.EntryPoint)
	fmt.Fprintf(out, "workgroup:   %d x %d x %d\n", r.WorkgroupSize[0], r.WorkgroupSize[1], r.WorkgroupSize[2])

	if len(r.Bindings) == 0 {
		fmt.Fprintln(out, "bindings:    none")
		return
	}
	fmt.Fprintln(out, "bindings:")
	for _, b := range r.Bindings {
		name := b.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(out, "  set %d binding %d: %s x%d (%s)\n", b.Set, b.Binding, b.Kind, max(b.Count, 1), name)
	}

	sizes := r.PoolSizes(0)
	if len(sizes) == 0 {
		return
	}
	kinds := make([]spirv.ResourceKind, 0, len(sizes))
	for k := range sizes {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	fmt.Fprintln(out, "pool sizes (set 0):")
	for _, k := range kinds {
		fmt.Fprintf(out, "  %s: %d\n", k, sizes[k])
	}
}
