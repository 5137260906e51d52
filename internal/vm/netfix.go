package vm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/libvirt"
	"github.com/jbweber/vmtools/internal/naming"
	"github.com/jbweber/vmtools/internal/status"
	"github.com/jbweber/vmtools/internal/validate"
)

// maxSuggestedInterfaces is the NIC count above which Optimize suggests
// trimming.
const maxSuggestedInterfaces = 2

// netCheck is a VM's definition together with what was found wrong with
// its interfaces.
type netCheck struct {
	name   validate.Name
	state  v1alpha1.VMState
	dom    *libvirtxml.Domain
	nets   []v1alpha1.NetworkInfo
	macs   map[string][]string
	issues []v1alpha1.ConfigIssue
}

func (o *Orchestrator) checkNetwork(ctx context.Context, vmName string) (*netCheck, error) {
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
	nets, err := o.networkList(ctx)
	if err != nil {
		return nil, err
	}
	macs, err := o.foreignMACs(ctx, n)
	if err != nil {
		return nil, err
	}

	c := &netCheck{name: n, state: info.State, dom: dom, nets: nets, macs: macs}
	c.issues = networkIssues(libvirt.Interfaces(dom), nets, macs)
	return c, nil
}

// networkIssues compares a VM's interfaces with the host's networks and
// with the MAC addresses other domains use. Bridged interfaces bypass
// libvirt networks and are only checked for duplicate addresses.
func networkIssues(nics []libvirt.NIC, nets []v1alpha1.NetworkInfo, macs map[string][]string) []v1alpha1.ConfigIssue {
	var issues []v1alpha1.ConfigIssue
	for _, nic := range nics {
		if owners := macs[strings.ToLower(nic.MAC)]; nic.MAC != "" && len(owners) > 0 {
			issues = append(issues, v1alpha1.ConfigIssue{
				Kind:      v1alpha1.ConfigIssueDuplicateMAC,
				Interface: nic.Index,
				MAC:       nic.MAC,
				Network:   nic.Network,
				Detail:    "MAC address also used by " + strings.Join(owners, ", "),
			})
		}
		if nic.Network == "" {
			continue
		}
		i := slices.IndexFunc(nets, func(n v1alpha1.NetworkInfo) bool { return n.Name == nic.Network })
		switch {
		case i < 0:
			issues = append(issues, v1alpha1.ConfigIssue{
				Kind:      v1alpha1.ConfigIssueUnknownNetwork,
				Interface: nic.Index,
				MAC:       nic.MAC,
				Network:   nic.Network,
				Detail:    fmt.Sprintf("network %s does not exist", nic.Network),
			})
		case !nets[i].Active:
			issues = append(issues, v1alpha1.ConfigIssue{
				Kind:      v1alpha1.ConfigIssueInactiveNetwork,
				Interface: nic.Index,
				MAC:       nic.MAC,
				Network:   nic.Network,
				Detail:    fmt.Sprintf("network %s is not active", nic.Network),
			})
		}
	}
	return issues
}

// foreignMACs maps every lower-cased MAC address defined on a domain other
// than self to the domains using it.
func (o *Orchestrator) foreignMACs(ctx context.Context, self validate.Name) (map[string][]string, error) {
	vms, err := o.List(ctx, All)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	macs := make(map[string][]string)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)

	for _, vm := range vms {
		if vm.Name == self.String() {
			continue
		}
		n, err := validate.Identifier(vm.Name)
		if err != nil {
			o.log.V(1).Info("not inspecting domain with unsupported name", "name", vm.Name)
			continue
		}
		g.Go(func() error {
			doc, err := o.dumpXML(gctx, n)
			switch {
			case errors.Is(err, fault.ErrNotFound):
				return nil
			case err != nil:
				return err
			}
			dom, err := libvirt.ParseDomainXML(doc)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, nic := range libvirt.Interfaces(dom) {
				if nic.MAC != "" {
					mac := strings.ToLower(nic.MAC)
					macs[mac] = append(macs[mac], n.String())
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for mac := range macs {
		slices.Sort(macs[mac])
	}
	return macs, nil
}

// FixNetwork reports duplicate MAC addresses, inactive networks and unknown
// networks on a VM's interfaces. With apply set it also repairs them:
// inactive networks are started, duplicate addresses are replaced with
// fresh random ones and interfaces on unknown networks are moved to the
// default network, or the first active one. Issues that could not be
// repaired stay in the report with Fixed unset.
//
// The definition is rewritten only when an interface changed. A running VM
// needs a full restart to pick the rewrite up.
func (o *Orchestrator) FixNetwork(ctx context.Context, vmName string, apply bool) (*v1alpha1.ConfigReport, error) {
	c, err := o.checkNetwork(ctx, vmName)
	if err != nil {
		return nil, err
	}
	report := &v1alpha1.ConfigReport{VM: c.name.String(), Issues: c.issues}
	if !apply || len(c.issues) == 0 {
		return report, nil
	}

	started := make(map[string]bool)
	for i := range report.Issues {
		issue := &report.Issues[i]
		if issue.Kind != v1alpha1.ConfigIssueInactiveNetwork {
			continue
		}
		if ok, seen := started[issue.Network]; seen {
			issue.Fixed = ok
			continue
		}
		err := o.NetworkStart(ctx, issue.Network)
		ok := err == nil || errors.Is(err, fault.ErrAlreadyRunning)
		if !ok {
			o.log.Error(err, "Warning: could not start network", "network", issue.Network)
		} else {
			o.log.Info("Network started", "network", issue.Network)
			report.Changes = append(report.Changes, "started network "+issue.Network)
			markActive(c.nets, issue.Network)
		}
		started[issue.Network] = ok
		issue.Fixed = ok
	}

	rewritten := false
	for i := range report.Issues {
		issue := &report.Issues[i]
		switch issue.Kind {
		case v1alpha1.ConfigIssueDuplicateMAC:
			mac, err := freshMAC(c.macs)
			if err != nil {
				return nil, err
			}
			if err := libvirt.SetInterfaceMAC(c.dom, issue.Interface, mac); err != nil {
				return nil, err
			}
			c.macs[mac] = []string{c.name.String()}
			report.Changes = append(report.Changes, fmt.Sprintf("interface %d: MAC %s replaced with %s", issue.Interface, issue.MAC, mac))
			issue.Fixed, rewritten = true, true

		case v1alpha1.ConfigIssueUnknownNetwork:
			target, err := o.activeNetwork(c.nets)
			if err != nil {
				o.log.Error(err, "Warning: no network to move interface to", "interface", issue.Interface)
				continue
			}
			if err := libvirt.SetInterfaceNetwork(c.dom, issue.Interface, target.String()); err != nil {
				return nil, err
			}
			report.Changes = append(report.Changes, fmt.Sprintf("interface %d: moved from %s to %s", issue.Interface, issue.Network, target))
			issue.Fixed, rewritten = true, true
		}
	}

	if rewritten {
		doc, err := c.dom.Marshal()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal domain XML: %w", err)
		}
		o.log.Info("Redefining VM", "name", c.name.String(), "changes", len(report.Changes))
		if err := o.define(ctx, c.name, doc); err != nil {
			return nil, err
		}
		report.RestartRequired = status.HasProcess(c.state)
	}
	return report, nil
}

func markActive(nets []v1alpha1.NetworkInfo, name string) {
	for i := range nets {
		if nets[i].Name == name {
			nets[i].Active = true
		}
	}
}

// freshMAC draws random addresses until one is unused.
func freshMAC(taken map[string][]string) (string, error) {
	for range 16 {
		mac, err := naming.RandomMAC()
		if err != nil {
			return "", err
		}
		if _, used := taken[mac]; !used {
			return mac, nil
		}
	}
	return "", fmt.Errorf("could not find an unused MAC address")
}

// Optimize reviews a stopped VM's definition and suggests changes without
// making any. Running VMs are refused so the suggestions apply to the
// definition that will boot next.
func (o *Orchestrator) Optimize(ctx context.Context, vmName string) (*v1alpha1.ConfigReport, error) {
	c, err := o.checkNetwork(ctx, vmName)
	if err != nil {
		return nil, err
	}
	if err := status.RequireStopped(c.name.String(), "optimize", c.state); err != nil {
		return nil, err
	}

	report := &v1alpha1.ConfigReport{VM: c.name.String(), Issues: c.issues}
	if len(c.issues) > 0 {
		report.Suggestions = append(report.Suggestions,
			fmt.Sprintf("run 'vmtools fix-network %s --auto' to repair %d network issue(s)", c.name, len(c.issues)))
	}

	nics := libvirt.Interfaces(c.dom)
	switch {
	case len(nics) == 0:
		report.Suggestions = append(report.Suggestions, "VM has no network interface")
	case len(nics) > maxSuggestedInterfaces:
		report.Suggestions = append(report.Suggestions,
			fmt.Sprintf("VM has %d network interfaces; remove the ones it does not use", len(nics)))
	}

	var active []string
	defaultActive := false
	for _, n := range c.nets {
		if !n.Active {
			continue
		}
		active = append(active, n.Name)
		if n.Name == o.settings.DefaultNetwork {
			defaultActive = true
		}
	}
	switch {
	case len(active) == 0:
		report.Suggestions = append(report.Suggestions, "no libvirt network is active; start one with 'vmtools network start <name>'")
	case !defaultActive:
		report.Suggestions = append(report.Suggestions,
			fmt.Sprintf("default network %s is not active (active: %s)", o.settings.DefaultNetwork, strings.Join(active, ", ")))
	}

	if !libvirt.HasChannel(c.dom, libvirt.GuestAgentChannel) {
		report.Suggestions = append(report.Suggestions,
			fmt.Sprintf("add a guest agent channel with 'vmtools fix-clipboard %s --guest-agent' so guest addresses can be read from the agent", c.name))
	}
	return report, nil
}
