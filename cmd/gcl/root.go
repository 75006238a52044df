package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/gogpu/gcl"
	"github.com/gogpu/gcl/internal/config"
)

// app is the state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "gcl",
		Short: "Minimal compute-only GPU execution",
		Long: `gcl opens a compute-capable GPU, loads SPIR-V or WGSL compute kernels,
binds host-visible buffers to them and dispatches them synchronously.

The software backend runs the bundled sample kernels on the CPU and is
selected with --backend software when no Vulkan device is present.`,
		Version:      gcl.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := cfg.NewLogger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			gcl.SetLogger(logger)
			a.cfg = cfg
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is $HOME/.gcl/config.yaml)")
	pf.String("backend", defaults.Device.Backend, "driver backend: vulkan or software (default: best available)")
	pf.Bool("validation", defaults.Device.Validation, "enable driver validation layers")
	pf.String("prefer", defaults.Device.Prefer, "adapter type: any, discrete or integrated")
	pf.Int("budget", defaults.Memory.BudgetMB, "device memory budget in MB (0 = unlimited)")
	pf.String("log-level", defaults.Logging.Level, "log level (debug, info, warn, error)")
	pf.String("log-format", defaults.Logging.Format, "log format (text, json)")

	cmd.AddCommand(
		newVersionCmd(),
		newDevicesCmd(a),
		newReflectCmd(),
		newRunCmd(a),
		newBenchCmd(a),
	)
	return cmd
}

// openContext creates a gcl context from the loaded configuration.
func (a *app) openContext() (*gcl.Context, error) {
	return gcl.New(a.cfg.Options()...)
}

// dispatchContext bounds one dispatch by the configured timeout.
func (a *app) dispatchContext(parent context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.Bench.TimeoutMS > 0 {
		return context.WithTimeout(parent, time.Duration(a.cfg.Bench.TimeoutMS)*time.Millisecond)
	}
	return context.WithCancel(parent)
}

// addRunFlags adds the workload flags shared by run and bench.
func addRunFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()
	f := cmd.Flags()
	f.Int("elements", defaults.Bench.Elements, "number of elements")
	f.Int("timeout", defaults.Bench.TimeoutMS, "per-dispatch timeout in milliseconds (0 = wait forever)")
}
