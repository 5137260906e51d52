package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/vm"
)

var (
	listAll     bool
	listRunning bool
	listBrief   bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List VMs",
	Long: `List the virtual machines defined on this host.

By default every domain is shown, running or not, with its resources filled
in from dominfo. --brief skips the per-domain queries.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := formatter()
		if err != nil {
			return err
		}
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			filter := vm.All
			if listRunning {
				filter = vm.RunningOnly
			}

			var vms []v1alpha1.VirtualMachine
			if listBrief {
				vms, err = o.List(cmd.Context(), filter)
			} else {
				vms, err = o.ListDetailed(cmd.Context(), filter)
			}
			if err != nil {
				return err
			}

			result, err := f.FormatVMList(vms)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), result)
			return nil
		})
	},
}

var createOpts struct {
	template    string
	memoryMB    uint64
	vcpus       uint
	diskSizeGB  uint64
	iso         string
	disk        string
	network     string
	sshKeys     []string
	sshKeyFiles []string
	hostname    string
	autostart   bool
	start       bool
}

var createCmd = &cobra.Command{
	Use:   "create <vm-name>",
	Short: "Create a VM from a template",
	Long: `Create a new virtual machine from a named template.

Template values can be overridden per VM. A new disk is created in the images
directory unless --disk names an existing one. With --ssh-key or --hostname a
cloud-init seed ISO is attached.

Example:
  vmtools create web --template ubuntu --memory 4096 --cpus 4 \
    --ssh-key-file ~/.ssh/id_ed25519.pub --start`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmName := args[0]

		keys := createOpts.sshKeys
		for _, path := range createOpts.sshKeyFiles {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read SSH key: %w", err)
			}
			for _, line := range strings.Split(string(data), "\n") {
				if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
					keys = append(keys, line)
				}
			}
		}

		ov := vm.Overrides{
			MemoryMB:   createOpts.memoryMB,
			VCPUs:      createOpts.vcpus,
			DiskSizeGB: createOpts.diskSizeGB,
			ISOPath:    createOpts.iso,
			DiskPath:   createOpts.disk,
			Network:    createOpts.network,
			SSHKeys:    keys,
			Hostname:   createOpts.hostname,
			Autostart:  createOpts.autostart,
		}

		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.Create(cmd.Context(), vmName, createOpts.template, ov); err != nil {
				return fmt.Errorf("failed to create VM: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ VM %s created\n", vmName)

			if createOpts.start {
				if err := o.Start(cmd.Context(), vmName); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ VM %s started\n", vmName)
			}
			return nil
		})
	},
}

var startWait time.Duration

var startCmd = &cobra.Command{
	Use:   "start <vm-name>",
	Short: "Start a VM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmName := args[0]
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.Start(cmd.Context(), vmName); err != nil {
				return err
			}
			if err := wait(cmd.Context(), o, vmName, v1alpha1.VMStateRunning, startWait); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ VM %s started\n", vmName)
			return nil
		})
	},
}

var (
	stopForce bool
	stopWait  time.Duration
)

var stopCmd = &cobra.Command{
	Use:   "stop <vm-name>",
	Short: "Stop a VM",
	Long: `Ask a VM to shut down through ACPI, or power it off with --force.

Without --wait the command returns as soon as the request is sent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vmName := args[0]
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.Stop(cmd.Context(), vmName, stopForce); err != nil {
				return err
			}
			if err := wait(cmd.Context(), o, vmName, v1alpha1.VMStateStopped, stopWait); err != nil {
				return err
			}
			if stopWait > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ VM %s stopped\n", vmName)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ VM %s asked to stop\n", vmName)
			}
			return nil
		})
	},
}

// wait blocks until the VM reaches state, for at most d. Zero skips it.
func wait(ctx context.Context, o *vm.Orchestrator, vmName string, state v1alpha1.VMState, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return o.WaitForState(ctx, vmName, state, time.Second)
}

var statusCmd = &cobra.Command{
	Use:   "status <vm-name>",
	Short: "Show a VM's state and live statistics",
	Long: `Show a VM's state. For a running VM the uptime, guest IP address and one
live sample from the QMP monitor are included. If the monitor cannot be
reached the status is still printed and marked partial.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := formatter()
		if err != nil {
			return err
		}
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			st, err := o.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			result, err := f.FormatStatus(st)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), result)
			return nil
		})
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone <source> <target>",
	Short: "Clone a stopped VM",
	Long: `Define a new VM as a copy of a stopped one.

The clone gets an independent copy of the source disk by default. Set
storage.clone_mode to "overlay" for a copy-on-write overlay of a qcow2 source;
the source then cannot be started or deleted while the clone exists.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.Clone(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ VM %s cloned to %s\n", args[0], args[1])
			return nil
		})
	},
}

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:     "delete <vm-name>",
	Aliases: []string{"rm"},
	Short:   "Delete a VM and its disks",
	Long: `Delete a virtual machine by name.

This will:
- Refuse unless the VM is stopped (--force powers it off)
- Refuse if it has snapshots or its disk backs a clone (--force overrides)
- Undefine the domain, its NVRAM and snapshot metadata
- Remove its disks and seed ISO from the images directory

Disks that back other images are always kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withOrchestrator(cmd.Context(), func(_ *app, o *vm.Orchestrator) error {
			if err := o.Delete(cmd.Context(), args[0], deleteForce); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ VM %s deleted\n", args[0])
			return nil
		})
	},
}

func init() {
	listCmd.Flags().BoolVarP(&listAll, "all", "a", true, "show every VM, running or not (default)")
	listCmd.Flags().BoolVar(&listRunning, "running", false, "only show running VMs")
	listCmd.MarkFlagsMutuallyExclusive("all", "running")
	listCmd.Flags().BoolVar(&listBrief, "brief", false, "skip per-VM details")

	cf := createCmd.Flags()
	cf.StringVarP(&createOpts.template, "template", "t", "", "template name (default from config)")
	cf.Uint64Var(&createOpts.memoryMB, "memory", 0, "memory in MiB")
	cf.UintVar(&createOpts.vcpus, "cpus", 0, "number of virtual CPUs")
	cf.Uint64Var(&createOpts.diskSizeGB, "disk-size", 0, "disk size in GiB")
	cf.StringVar(&createOpts.iso, "iso", "", "installer ISO under the ISO directory")
	cf.StringVar(&createOpts.disk, "disk", "", "existing disk under the images directory")
	cf.StringVar(&createOpts.network, "network", "", "libvirt network")
	cf.StringArrayVar(&createOpts.sshKeys, "ssh-key", nil, "authorized SSH public key (repeatable)")
	cf.StringArrayVar(&createOpts.sshKeyFiles, "ssh-key-file", nil, "file of SSH public keys (repeatable)")
	cf.StringVar(&createOpts.hostname, "hostname", "", "guest hostname for cloud-init")
	cf.BoolVar(&createOpts.autostart, "autostart", false, "start with the host")
	cf.BoolVar(&createOpts.start, "start", false, "start after creating")

	startCmd.Flags().DurationVar(&startWait, "wait", 0, "wait up to this long for the VM to run")

	stopCmd.Flags().BoolVarP(&stopForce, "force", "f", false, "power off immediately")
	stopCmd.Flags().DurationVar(&stopWait, "wait", 0, "wait up to this long for the VM to stop")

	deleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "stop the VM and ignore snapshots and clones")
}
