package vm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/cloudinit"
	"github.com/jbweber/vmtools/internal/diskimg"
	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/libvirt"
	"github.com/jbweber/vmtools/internal/metadata"
	"github.com/jbweber/vmtools/internal/naming"
	"github.com/jbweber/vmtools/internal/parser"
	"github.com/jbweber/vmtools/internal/validate"
)

// Overrides adjust a template for a single create. Zero values keep the
// template's setting.
type Overrides struct {
	MemoryMB   uint64
	VCPUs      uint
	DiskSizeGB uint64

	// ISOPath is an installer image under the ISO directory.
	ISOPath string

	// DiskPath is an existing disk under the images directory, used instead
	// of creating a new one.
	DiskPath string

	// Network defaults to the configured network when it is active, and to
	// the first active network otherwise.
	Network string

	// SSHKeys and Hostname, when set, are written to a cloud-init seed ISO.
	SSHKeys  []string
	Hostname string

	Autostart bool
}

func (ov *Overrides) wantsSeed() bool {
	return len(ov.SSHKeys) > 0 || ov.Hostname != ""
}

// createPlan is a fully validated create request.
type createPlan struct {
	name         validate.Name
	templateName string
	template     v1alpha1.Template
	iso          validate.Path
	customDisk   validate.Path
	network      validate.Name
}

// Create defines a new VM from a named template.
//
// This orchestrates the creation process:
//  1. Validate the name, template, overrides and paths
//  2. Check the domain does not already exist
//  3. Select a network
//  4. Create the disk and optional cloud-init seed
//  5. Generate the domain XML and define it from a temporary file
//  6. Enable autostart if requested
//
// If define fails, the disk and seed created by this call are removed. The
// VM is not started.
func (o *Orchestrator) Create(ctx context.Context, vmName, templateName string, ov Overrides) error {
	plan, err := o.planCreate(vmName, templateName, &ov)
	if err != nil {
		return err
	}

	o.log.Info("Checking if VM already exists", "name", plan.name.String())
	if err := o.requireAbsent(ctx, plan.name); err != nil {
		return err
	}

	if plan.network, err = o.selectNetwork(ctx, ov.Network); err != nil {
		return err
	}

	// State tracking for cleanup
	var (
		created   []validate.Path
		createErr error
	)
	defer func() {
		if createErr != nil {
			o.removeFiles(created)
		}
	}()

	diskPath, diskFormat := plan.customDisk, ""
	if diskPath.IsZero() {
		diskFormat = string(o.settings.DiskFormat)
		if diskPath, createErr = naming.Disk(o.settings.ImagesDir, plan.name, diskFormat); createErr != nil {
			return createErr
		}
		if createErr = fileAbsent(diskPath); createErr != nil {
			return createErr
		}
		o.log.Info("Creating disk", "path", diskPath.String(), "sizeGB", plan.template.DiskSizeGB)
		if createErr = o.images.Create(ctx, diskPath, o.settings.DiskFormat, plan.template.DiskSizeGB); createErr != nil {
			// qemu-img may leave a partial file behind.
			created = append(created, diskPath)
			return createErr
		}
		created = append(created, diskPath)
	} else {
		var f diskimg.Format
		if f, createErr = diskimg.DetectFormat(diskPath.String()); createErr != nil {
			return fmt.Errorf("failed to inspect disk %s: %w", diskPath, createErr)
		}
		diskFormat = string(f)
	}

	var mac string
	if mac, createErr = naming.RandomMAC(); createErr != nil {
		return createErr
	}

	var seedPath validate.Path
	if ov.wantsSeed() {
		if seedPath, createErr = naming.SeedISO(o.settings.ImagesDir, plan.name); createErr != nil {
			return createErr
		}
		o.log.Info("Writing cloud-init seed", "path", seedPath.String())
		createErr = cloudinit.WriteISO(seedPath, &cloudinit.Seed{
			Name:     plan.name,
			Hostname: ov.Hostname,
			SSHKeys:  ov.SSHKeys,
			MAC:      mac,
		})
		if createErr != nil {
			return createErr
		}
		created = append(created, seedPath)
		if createErr = diskimg.HandToQEMU(seedPath.String()); createErr != nil {
			return createErr
		}
	}

	spec := &libvirt.DomainSpec{
		Name:       plan.name,
		Template:   plan.template,
		UUID:       uuid.NewString(),
		DiskPath:   diskPath,
		DiskFormat: diskFormat,
		ISOPath:    plan.iso,
		SeedPath:   seedPath,
		Network:    plan.network,
		MAC:        mac,
		QMPSocket:  o.socketPath(plan.name),
		Metadata: &metadata.Info{
			CreatedAt: o.now().UTC(),
			Template:  plan.templateName,
			Version:   o.settings.BuildVersion,
		},
	}

	o.log.Info("Generating domain XML")
	var doc string
	if doc, createErr = libvirt.GenerateDomainXML(spec); createErr != nil {
		return fmt.Errorf("failed to generate domain XML: %w", createErr)
	}

	o.log.Info("Defining domain", "name", plan.name.String())
	if createErr = o.define(ctx, plan.name, doc); createErr != nil {
		return createErr
	}

	if ov.Autostart {
		o.log.Info("Enabling autostart")
		if _, err := o.virsh(ctx, invoke.Literal("autostart"), invoke.NameArg(plan.name)); err != nil {
			return fmt.Errorf("VM %s defined but autostart failed: %w", plan.name, err)
		}
	}

	o.log.Info("VM created", "name", plan.name.String(), "template", plan.templateName)
	return nil
}

func (o *Orchestrator) planCreate(vmName, templateName string, ov *Overrides) (*createPlan, error) {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return nil, err
	}

	if templateName == "" {
		templateName = o.settings.DefaultTemplate
	}
	tmpl, ok := o.settings.Templates[templateName]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", templateName)
	}
	tmpl = tmpl.ApplyOverrides(ov.MemoryMB, ov.VCPUs, ov.DiskSizeGB)
	if err := errors.Join(
		validate.Memory(tmpl.MemoryMB),
		validate.CPUs(tmpl.VCPUs),
		validate.DiskSize(tmpl.DiskSizeGB),
	); err != nil {
		return nil, err
	}

	plan := &createPlan{name: n, templateName: templateName, template: tmpl}

	if ov.ISOPath != "" {
		if o.settings.ISODir.IsZero() {
			return nil, fmt.Errorf("cannot attach %s: ISO directory is not configured or does not exist", ov.ISOPath)
		}
		if plan.iso, err = validate.SystemPath(ov.ISOPath, o.settings.ISODir.String()); err != nil {
			return nil, err
		}
	}
	if ov.DiskPath != "" {
		if plan.customDisk, err = validate.SystemPath(ov.DiskPath, o.settings.ImagesDir.String()); err != nil {
			return nil, err
		}
	}
	if ov.Network != "" {
		if _, err := validate.Identifier(ov.Network); err != nil {
			return nil, err
		}
	}
	if ov.Hostname != "" {
		if err := cloudinit.ValidateHostname(ov.Hostname); err != nil {
			return nil, err
		}
	}
	if err := cloudinit.ValidateKeys(ov.SSHKeys); err != nil {
		return nil, err
	}
	return plan, nil
}

// selectNetwork picks the requested network, else the configured default
// when it is active, else the first active network.
func (o *Orchestrator) selectNetwork(ctx context.Context, requested string) (validate.Name, error) {
	nets, err := o.networkList(ctx)
	if err != nil {
		return validate.Name{}, err
	}

	if requested != "" {
		for _, n := range nets {
			if n.Name == requested {
				if !n.Active {
					o.log.Info("Warning: network is not active; the VM will not start until it is", "network", requested)
				}
				return validate.Identifier(requested)
			}
		}
		return validate.Name{}, fmt.Errorf("network %s: %w", requested, fault.ErrNotFound)
	}
	return o.activeNetwork(nets)
}

// activeNetwork prefers the configured default network and falls back to
// the first active one.
func (o *Orchestrator) activeNetwork(nets []v1alpha1.NetworkInfo) (validate.Name, error) {
	var active []string
	for _, n := range nets {
		if n.Active {
			active = append(active, n.Name)
		}
	}
	for _, n := range active {
		if n == o.settings.DefaultNetwork {
			return validate.Identifier(n)
		}
	}
	for _, n := range active {
		if v, err := validate.Identifier(n); err == nil {
			o.log.Info("Using first active network", "network", n, "default", o.settings.DefaultNetwork)
			return v, nil
		}
	}
	return validate.Name{}, fmt.Errorf("no active network (have %s)", networkNames(nets))
}

func (o *Orchestrator) networkList(ctx context.Context) ([]v1alpha1.NetworkInfo, error) {
	out, err := o.query(ctx, invoke.Literal("net-list"), invoke.Literal("--all"))
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	return parser.ParseNetworkList(out.Stdout)
}

func networkNames(nets []v1alpha1.NetworkInfo) string {
	if len(nets) == 0 {
		return "none"
	}
	names := make([]string, len(nets))
	for i, n := range nets {
		names[i] = n.Name
	}
	return strings.Join(names, ", ")
}

// socketPath is the QMP socket for a domain, or zero when no socket
// directory is available.
func (o *Orchestrator) socketPath(n validate.Name) validate.Path {
	if o.settings.SocketDir.IsZero() {
		return validate.Path{}
	}
	p, err := naming.Socket(o.settings.SocketDir, n)
	if err != nil {
		return validate.Path{}
	}
	return p
}

// define writes doc to a private temporary file and runs virsh define on it
// exactly once. The file is removed whatever happens.
func (o *Orchestrator) define(ctx context.Context, n validate.Name, doc string) error {
	f, err := os.CreateTemp(o.settings.TempDir.String(), naming.TempPattern(n))
	if err != nil {
		return fmt.Errorf("failed to create temporary definition: %w", err)
	}
	defer func() { _ = os.Remove(f.Name()) }()

	if _, err := f.WriteString(doc); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write temporary definition: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write temporary definition: %w", err)
	}

	path, err := validate.SystemPath(f.Name(), o.settings.TempDir.String())
	if err != nil {
		return err
	}
	if _, err := o.virsh(ctx, invoke.Literal("define"), invoke.PathArg(path)); err != nil {
		return fmt.Errorf("failed to define domain %s: %w", n, err)
	}
	return nil
}

// removeFiles is best-effort cleanup: failures are logged, never returned.
func (o *Orchestrator) removeFiles(paths []validate.Path) {
	for _, p := range paths {
		o.log.Info("Cleaning up", "path", p.String())
		if err := os.Remove(p.String()); err != nil && !errors.Is(err, os.ErrNotExist) {
			o.log.Error(err, "Warning: cleanup failed", "path", p.String())
		}
	}
}
