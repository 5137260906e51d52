package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/vmtools/internal/metrics"
	"github.com/jbweber/vmtools/internal/vm"
)

var (
	monitorInterval time.Duration
	monitorCount    int
	metricsListen   string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <vm-name>",
	Short: "Stream live statistics from a running VM",
	Long: `Stream samples from a running VM's QMP monitor until interrupted.

Each sample carries balloon, vCPU and per-device block statistics and any
monitor events received since the previous one. With --metrics-listen the
same samples are exported for Prometheus at /metrics.

Example:
  vmtools monitor web --interval 5s --metrics-listen :9464`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmName := args[0]
		f, err := formatter()
		if err != nil {
			return err
		}

		return withOrchestrator(cmd.Context(), func(a *app, o *vm.Orchestrator) error {
			listen := metricsListen
			if listen == "" {
				listen = a.cfg.Metrics.Listen
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			g, gctx := errgroup.WithContext(ctx)
			samples, err := o.Monitor(gctx, vmName, monitorInterval)
			if err != nil {
				return err
			}

			if listen != "" {
				a.log.Info("Serving metrics", "address", listen)
				g.Go(func() error {
					return metrics.Serve(gctx, listen, a.metrics.Handler())
				})
			}
			g.Go(func() error {
				defer cancel()
				n := 0
				for sample, err := range samples {
					if err != nil {
						return err
					}
					result, err := f.FormatSample(vmName, &sample)
					if err != nil {
						return fmt.Errorf("failed to format output: %w", err)
					}
					fmt.Fprint(cmd.OutOrStdout(), result)

					n++
					if monitorCount > 0 && n >= monitorCount {
						return nil
					}
				}
				return nil
			})
			return g.Wait()
		})
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console <vm-name>",
	Short: "Attach to a VM's serial console",
	Long:  `Attach the terminal to a running VM's serial console. Detach with Ctrl+].`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			return o.Console(cmd.Context(), args[0], vm.Stdio{In: os.Stdin, Out: os.Stdout, Err: os.Stderr})
		})
	},
}

var sendKeysCmd = &cobra.Command{
	Use:   "send-keys <vm-name> <key>...",
	Short: "Press a key combination in a VM",
	Long: `Press keys together on a running VM's keyboard through its QMP monitor.
Keys are QEMU key codes.

Example:
  vmtools send-keys web ctrl alt delete`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.SendKeys(cmd.Context(), args[0], args[1:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Sent %v to %s\n", args[1:], args[0])
			return nil
		})
	},
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0, "time between samples (default from config)")
	monitorCmd.Flags().IntVar(&monitorCount, "count", 0, "stop after this many samples (0 runs until interrupted)")
	monitorCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
}
