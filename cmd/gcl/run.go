package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/gcl/internal/kernels"
)

// verifyTolerance is the relative error accepted against the CPU reference.
const verifyTolerance = 1e-4

func newRunCmd(a *app) *cobra.Command {
	var show int
	cmd := &cobra.Command{
		Use:       "run <" + strings.Join(kernels.Names(), "|") + ">",
		Short:     "Dispatch a sample kernel once and check it against the CPU",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: kernels.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := kernels.Lookup(args[0])
			if err != nil {
				return err
			}
			ctx, err := a.openContext()
			if err != nil {
				return err
			}
			defer ctx.Destroy()

			n := a.cfg.Bench.Elements
			p, err := kernels.Prepare(ctx, s, n)
			if err != nil {
				return err
			}
			defer p.Destroy()

			dctx, cancel := a.dispatchContext(cmd.Context())
			defer cancel()
			start := time.Now()
			if err := p.Dispatch(dctx); err != nil {
				return err
			}
			elapsed := time.Since(start)

			mismatches, maxErr, err := p.Verify(verifyTolerance)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			info := ctx.Adapter()
			fmt.Fprintf(out, "kernel:   %s (%s)\n", s.Name, s.Description)
			fmt.Fprintf(out, "device:   %s [%s, %s]\n", info.Name, ctx.Backend(), info.Kind())
			fmt.Fprintf(out, "elements: %d in %d workgroup(s) of %d\n", n, p.Kernel.GroupCount(uint32(n)), p.Kernel.WorkgroupSize()[0])
			fmt.Fprintf(out, "dispatch: %v\n", elapsed)

			if show > 0 {
				got, err := p.Result()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "out[:%d]: %v\n", min(show, n), got[:min(show, n)])
			}

			if mismatches > 0 {
				return fmt.Errorf("%s: %d of %d elements differ from the CPU reference (max relative error %g)", s.Name, mismatches, n, maxErr)
			}
			fmt.Fprintf(out, "check:    ok (max relative error %g)\n", maxErr)
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().IntVar(&show, "show", 0, "print the first n output values")
	return cmd
}
