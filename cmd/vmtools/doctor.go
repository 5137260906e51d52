package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmtools/internal/hostcheck"
	"github.com/jbweber/vmtools/internal/vm"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this host can run VMs",
	Long: `Check the libvirt daemon, KVM, CPU virtualization support, host memory and
the virsh and qemu-img versions. Warnings do not fail the command.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}

		runner := a.runner()
		// Only the virsh path is needed; the storage settings may be what is broken.
		o := vm.New(runner, nil, nil, vm.Settings{
			VirshPath: a.cfg.Libvirt.VirshPath,
			Timeout:   a.cfg.Libvirt.Timeout.Duration,
		}, vm.WithLogger(a.log))

		checker := &hostcheck.Checker{
			SocketPath:     a.cfg.Libvirt.SocketPath,
			Timeout:        a.cfg.Libvirt.Timeout.Duration,
			VirshVersion:   o.VirshVersion,
			QemuImgVersion: a.imageTool(runner).Version,
		}
		report := checker.Run(cmd.Context())

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		if !noHeaders {
			fmt.Fprintln(w, "CHECK\tSTATUS\tDETAIL")
		}
		for _, r := range report.Results {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.Status, r.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if report.Failed() {
			return errors.New("host checks failed")
		}
		return nil
	},
}
