package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmtools/internal/vm"
)

// Disk management commands
var diskCmd = &cobra.Command{
	Use:   "disk",
	Short: "Inspect and resize VM disks",
}

func init() {
	diskCmd.AddCommand(diskInfoCmd)
	diskCmd.AddCommand(diskResizeCmd)
}

var diskInfoCmd = &cobra.Command{
	Use:   "info <vm-name>",
	Short: "Show a VM's primary disk",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := formatter()
		if err != nil {
			return err
		}
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			info, err := o.DiskInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			result, err := f.FormatImageInfo(&info)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), result)
			return nil
		})
	},
}

var diskResizeCmd = &cobra.Command{
	Use:   "resize <vm-name> <size-gb>",
	Short: "Grow a stopped VM's primary disk",
	Long: `Grow a stopped VM's primary disk to the given size in GiB. Disks are never
shrunk. The guest filesystem must be grown separately.

Example:
  vmtools disk resize web 40`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[1], err)
		}
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.DiskResize(cmd.Context(), args[0], size); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Disk of %s resized to %d GiB\n", args[0], size)
			return nil
		})
	},
}
