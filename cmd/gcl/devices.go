package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gogpu/gcl/driver"
)

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List backends and their adapters",
		Long: `List every registered driver backend and the adapters it exposes.

The adapter gcl opens is the first one reporting compute support that
matches --prefer. With --backend only that backend is listed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listDevices(cmd.OutOrStdout())
		},
	}
}

func (a *app) listDevices(out io.Writer) error {
	names := driver.Available()
	if a.cfg.Device.Backend != "" {
		names = []string{a.cfg.Device.Backend}
	}
	if len(names) == 0 {
		return driver.ErrBackendNotAvailable
	}

	for _, name := range names {
		backend := driver.Get(name)
		if backend == nil {
			return fmt.Errorf("backend %q: %w", name, driver.ErrBackendNotAvailable)
		}
		inst, err := backend.CreateInstance(driver.InstanceDescriptor{
			Label:      a.cfg.Device.Label,
			Validation: a.cfg.Device.Validation,
		})
		if err != nil {
			fmt.Fprintf(out, "%s: unavailable: %v\n", name, err)
			continue
		}

		adapters := inst.Adapters()
		fmt.Fprintf(out, "%s: %d adapter(s)\n", name, len(adapters))
		for i, adapter := range adapters {
			info := adapter.Info()
			compute := "no"
			if info.Compute {
				compute = fmt.Sprintf("yes (queue family %d)", info.QueueFamily)
			}
			fmt.Fprintf(out, "  [%d] %s\n", i, info.Name)
			fmt.Fprintf(out, "      kind: %s, driver: %s, compute: %s\n", info.Kind(), info.Driver, compute)
		}
		inst.Destroy()
	}
	return nil
}
