package vm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/naming"
	"github.com/jbweber/vmtools/internal/parser"
	"github.com/jbweber/vmtools/internal/status"
	"github.com/jbweber/vmtools/internal/validate"
)

// Status reports a VM's coarse state. For a running VM it adds the uptime,
// the guest's IPv4 address and one live sample from the monitor. Failing to
// reach the monitor marks the status Partial; it never fails the call.
func (o *Orchestrator) Status(ctx context.Context, vmName string) (*v1alpha1.VMStatus, error) {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return nil, err
	}

	vm, err := o.domInfo(ctx, n)
	if err != nil {
		return nil, err
	}
	st := v1alpha1.NewVMStatus(vm)
	status.MarkReady(st)
	if !st.VM.IsRunning() {
		return st, nil
	}

	if up, ok := o.uptime(n); ok {
		st.VM.SetUptime(up)
	}

	ip, err := o.guestIPv4(ctx, n)
	status.MarkGuestAddress(st, ip, err)

	o.sampleInto(ctx, n, st)
	return st, nil
}

// uptime is the age of libvirt's pidfile for the domain.
func (o *Orchestrator) uptime(n validate.Name) (d time.Duration, ok bool) {
	if o.settings.RunDir.IsZero() {
		return 0, false
	}
	pidfile, err := naming.PidFile(o.settings.RunDir, n)
	if err != nil {
		return 0, false
	}
	fi, err := os.Stat(pidfile.String())
	if err != nil {
		o.log.V(1).Info("no pidfile", "path", pidfile.String(), "error", err.Error())
		return 0, false
	}
	return o.now().Sub(fi.ModTime()), true
}

func (o *Orchestrator) guestIPv4(ctx context.Context, n validate.Name) (string, error) {
	out, err := o.query(ctx,
		invoke.Literal("domifaddr"), invoke.NameArg(n),
		invoke.Literal("--source"), ipSourceArg(o.settings.IPSource),
	)
	if err != nil {
		return "", fmt.Errorf("failed to query addresses: %w", err)
	}
	addrs, err := parser.ParseDomIfAddr(out.Stdout)
	if err != nil {
		return "", err
	}
	return parser.FirstIPv4(addrs), nil
}

// ipSourceArg maps the configured source onto a literal argument.
func ipSourceArg(source string) invoke.Arg {
	switch source {
	case "agent":
		return invoke.Literal("agent")
	case "arp":
		return invoke.Literal("arp")
	}
	return invoke.Literal("lease")
}

func (o *Orchestrator) sampleInto(ctx context.Context, n validate.Name, st *v1alpha1.VMStatus) {
	socket := o.socketPath(n)
	if socket.IsZero() {
		status.MarkLiveStatsFailed(st, "NoMonitorSocket", fmt.Errorf("monitor socket directory is not available"))
		return
	}

	mctx := ctx
	if o.settings.MonitorTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, o.settings.MonitorTimeout)
		defer cancel()
	}

	mon, err := o.dialer.Dial(mctx, socket)
	if err != nil {
		o.log.V(1).Info("monitor unavailable", "name", n.String(), "error", err.Error())
		status.MarkLiveStatsFailed(st, "MonitorUnavailable", err)
		return
	}
	defer func() { _ = mon.Close() }()

	sample, err := mon.Sample(mctx)
	if err != nil {
		status.MarkLiveStatsFailed(st, "SampleFailed", err)
		return
	}
	sample.Events = mon.DrainEvents()
	o.metrics.RecordSample(n.String(), sample)
	status.MarkLiveStats(st, &sample)
}
