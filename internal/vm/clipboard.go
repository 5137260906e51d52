package vm

import (
	"context"
	"fmt"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/libvirt"
	"github.com/jbweber/vmtools/internal/status"
	"github.com/jbweber/vmtools/internal/validate"
)

// FixClipboard sets a VM up for host/guest copy and paste over SPICE. With
// guestAgent set the qemu-guest-agent channel is added as well. The guest
// still needs spice-vdagent (and qemu-guest-agent) installed.
//
// The report lists every change made; an empty list means nothing was
// missing and the definition was left alone.
func (o *Orchestrator) FixClipboard(ctx context.Context, vmName string, guestAgent bool) (*v1alpha1.ConfigReport, error) {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return nil, err
	}
	info, err := o.domInfo(ctx, n)
	if err != nil {
		return nil, err
	}
	doc, err := o.dumpXML(ctx, n)
	if err != nil {
		return nil, err
	}
	dom, err := libvirt.ParseDomainXML(doc)
	if err != nil {
		return nil, err
	}

	report := &v1alpha1.ConfigReport{VM: n.String()}
	report.Changes = libvirt.EnsureSpiceClipboard(dom)
	if guestAgent && libvirt.EnsureGuestAgentChannel(dom) {
		report.Changes = append(report.Changes, "added qemu-guest-agent channel "+libvirt.GuestAgentChannel)
	}
	if len(report.Changes) == 0 {
		o.log.Info("Clipboard sharing already configured", "name", n.String())
		return report, nil
	}

	out, err := dom.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	o.log.Info("Redefining VM", "name", n.String(), "changes", len(report.Changes))
	if err := o.define(ctx, n, out); err != nil {
		return nil, err
	}
	report.RestartRequired = status.HasProcess(info.State)
	return report, nil
}
