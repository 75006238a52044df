package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/gcl"
	"github.com/gogpu/gcl/internal/config"
	"github.com/gogpu/gcl/internal/kernels"
)

// timing is the outcome of one benchmarked kernel on one executor.
type timing struct {
	kernel   string
	executor string
	// avg is the mean time of one repetition after warm-up.
	avg time.Duration
	// end2end covers setup, warm-up and all repetitions.
	end2end time.Duration
}

func newBenchCmd(a *app) *cobra.Command {
	var names []string
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Compare GPU dispatch time with the CPU reference loop",
		Long: `Run each kernel --reps times on the device and as a plain Go loop, after
one warm-up repetition, and report the average time per repetition and the
end-to-end time. GPU end-to-end time includes kernel load, buffer upload
and binding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs := make([]kernels.Spec, 0, len(names))
			for _, name := range names {
				s, err := kernels.Lookup(name)
				if err != nil {
					return err
				}
				specs = append(specs, s)
			}

			ctx, err := a.openContext()
			if err != nil {
				return err
			}
			defer ctx.Destroy()

			n, reps := a.cfg.Bench.Elements, a.cfg.Bench.Reps
			var results []timing
			for _, s := range specs {
				gpu, err := a.benchGPU(cmd.Context(), ctx, s, n, reps)
				if err != nil {
					return err
				}
				results = append(results, gpu, benchCPU(s, n, reps))
			}

			info := ctx.Adapter()
			fmt.Fprintf(cmd.OutOrStdout(), "device: %s [%s], elements: %d, reps: %d\n", info.Name, ctx.Backend(), n, reps)
			return printTimings(cmd.OutOrStdout(), results)
		},
	}
	f := cmd.Flags()
	f.StringSliceVar(&names, "kernels", []string{"heavy", "branch"}, "kernels to benchmark")
	f.Int("reps", config.DefaultConfig().Bench.Reps, "repetitions per kernel")
	addRunFlags(cmd)
	return cmd
}

func (a *app) benchGPU(parent context.Context, ctx *gcl.Context, s kernels.Spec, n, reps int) (timing, error) {
	t := timing{kernel: s.Name, executor: "gpu"}
	begin := time.Now()

	p, err := kernels.Prepare(ctx, s, n)
	if err != nil {
		return t, err
	}
	defer p.Destroy()

	dispatch := func() error {
		dctx, cancel := a.dispatchContext(parent)
		defer cancel()
		return p.Dispatch(dctx)
	}
	if err := dispatch(); err != nil {
		return t, err
	}

	start := time.Now()
	for range reps {
		if err := dispatch(); err != nil {
			return t, err
		}
	}
	t.avg = time.Since(start) / time.Duration(reps)

	if _, err := p.Result(); err != nil {
		return t, err
	}
	t.end2end = time.Since(begin)
	return t, nil
}

func benchCPU(s kernels.Spec, n, reps int) timing {
	t := timing{kernel: s.Name, executor: "cpu"}
	begin := time.Now()

	a, b := s.Inputs(n)
	out := make([]float32, n)
	s.CPU(a, b, out)

	start := time.Now()
	for range reps {
		s.CPU(a, b, out)
	}
	t.avg = time.Since(start) / time.Duration(reps)
	t.end2end = time.Since(begin)
	return t
}

func printTimings(out io.Writer, results []timing) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KERNEL\tEXECUTOR\tAVG (us)\tEND2END (us)")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\n", r.kernel, r.executor, micros(r.avg), micros(r.end2end))
	}
	return tw.Flush()
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
