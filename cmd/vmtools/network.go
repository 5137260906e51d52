package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmtools/internal/vm"
)

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List libvirt networks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := formatter()
		if err != nil {
			return err
		}
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			nets, err := o.Networks(cmd.Context())
			if err != nil {
				return err
			}
			result, err := f.FormatNetworks(nets)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), result)
			return nil
		})
	},
}

// Network management commands
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage libvirt networks",
}

func init() {
	networkCmd.AddCommand(networkStartCmd)
	networkCmd.AddCommand(networkAutostartCmd)

	networkAutostartCmd.Flags().BoolVar(&networkAutostartDisable, "disable", false, "stop starting the network with the host")
}

var networkStartCmd = &cobra.Command{
	Use:   "start <network>",
	Short: "Activate a network",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.NetworkStart(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Network %s started\n", args[0])
			return nil
		})
	},
}

var networkAutostartDisable bool

var networkAutostartCmd = &cobra.Command{
	Use:   "autostart <network>",
	Short: "Start a network with the host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.NetworkAutostart(cmd.Context(), args[0], !networkAutostartDisable); err != nil {
				return err
			}
			state := "enabled"
			if networkAutostartDisable {
				state = "disabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Autostart %s for network %s\n", state, args[0])
			return nil
		})
	},
}
