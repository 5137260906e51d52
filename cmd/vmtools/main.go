package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags
var (
	configPath   string
	outputFormat string
	noHeaders    bool
	verbose      bool
	logFormat    string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError reports err with the boundary it crossed, so scripts can tell
// a rejected argument from a virsh failure.
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error [%s]: %v\n", fault.BoundaryOf(err), err)
}

var rootCmd = &cobra.Command{
	Use:   "vmtools",
	Short: "vmtools - virsh-driven VM management",
	Long: `vmtools manages libvirt virtual machines on the local host.

It drives virsh and qemu-img for lifecycle and disk operations and talks to
each VM's QMP monitor for live statistics. Every argument is validated before
any external tool runs.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default $VMTOOLS_CONFIG or ~/.config/vmtools/config.toml)")
	pf.StringVarP(&outputFormat, "output", "o", string(output.FormatTable), "output format: table, yaml, json")
	pf.BoolVar(&noHeaders, "no-headers", false, "omit table headers")
	pf.BoolVarP(&verbose, "verbose", "v", false, "log external commands")
	pf.StringVar(&logFormat, "log-format", "", "log format: text, json (default from config)")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(sendKeysCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(networkCmd)
	rootCmd.AddCommand(fixNetworkCmd)
	rootCmd.AddCommand(optimizeCmd)
	rootCmd.AddCommand(fixClipboardCmd)
	rootCmd.AddCommand(diskCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(doctorCmd)
}

// formatter returns the formatter selected by --output.
func formatter() (output.Formatter, error) {
	if err := output.ValidateFormat(outputFormat); err != nil {
		return nil, err
	}
	return output.NewFormatter(output.Options{
		Format:    output.Format(outputFormat),
		NoHeaders: noHeaders,
	})
}
