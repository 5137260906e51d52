package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/vm"
)

var fixNetworkAuto bool

var fixNetworkCmd = &cobra.Command{
	Use:   "fix-network <vm-name>",
	Short: "Find and repair network problems of a VM",
	Long: `Check a VM's interfaces for MAC addresses shared with other VMs,
inactive networks and networks that no longer exist.

Without --auto the problems are only reported. With --auto inactive networks
are started, duplicate MAC addresses are replaced and interfaces on missing
networks are moved to the default network.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd, func(ctx context.Context, o *vm.Orchestrator) (*v1alpha1.ConfigReport, error) {
			return o.FixNetwork(ctx, args[0], fixNetworkAuto)
		})
	},
}

var optimizeCmd = &cobra.Command{
	Use:   "optimize <vm-name>",
	Short: "Suggest configuration improvements for a stopped VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd, func(ctx context.Context, o *vm.Orchestrator) (*v1alpha1.ConfigReport, error) {
			return o.Optimize(ctx, args[0])
		})
	},
}

var fixClipboardGuestAgent bool

var fixClipboardCmd = &cobra.Command{
	Use:   "fix-clipboard <vm-name>",
	Short: "Enable host/guest clipboard sharing",
	Long: `Add what SPICE clipboard sharing needs to a VM's definition: a SPICE
display with copy and paste enabled and the spice-vdagent channel.

The guest must run spice-vdagent. A running VM picks the change up after it is
stopped and started again.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd, func(ctx context.Context, o *vm.Orchestrator) (*v1alpha1.ConfigReport, error) {
			return o.FixClipboard(ctx, args[0], fixClipboardGuestAgent)
		})
	},
}

func init() {
	fixNetworkCmd.Flags().BoolVar(&fixNetworkAuto, "auto", false, "repair the problems found")
	fixClipboardCmd.Flags().BoolVar(&fixClipboardGuestAgent, "guest-agent", false, "also add the qemu-guest-agent channel")
}

// runReport prints the report produced by fn in the selected format.
func runReport(cmd *cobra.Command, fn func(context.Context, *vm.Orchestrator) (*v1alpha1.ConfigReport, error)) error {
	f, err := formatter()
	if err != nil {
		return err
	}
	return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
		report, err := fn(cmd.Context(), o)
		if err != nil {
			return err
		}
		result, err := f.FormatConfigReport(report)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), result)
		return nil
	})
}
