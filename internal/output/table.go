package output

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

// TableFormatter formats records as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

func newTabWriter(buf *bytes.Buffer) *tabwriter.Writer {
	return tabwriter.NewWriter(buf, 0, 0, 2, ' ', 0)
}

func (f *TableFormatter) header(w *tabwriter.Writer, cols ...string) {
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, strings.Join(cols, "\t"))
	}
}

// FormatVMList formats VMs as a table. Columns a brief listing does not
// fill show "-".
func (f *TableFormatter) FormatVMList(vms []v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "No VMs found\n", nil
	}

	var buf bytes.Buffer
	w := newTabWriter(&buf)
	f.header(w, "NAME", "STATE", "ID", "VCPUS", "MEMORY", "AUTOSTART")

	for _, vm := range vms {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			vm.Name,
			vm.State,
			dashInt(vm.ID),
			dashUint(uint64(vm.VCPUs), ""),
			dashUint(vm.MemoryMB, " MiB"),
			yesNo(vm.Autostart),
		)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatStatus formats a status report as aligned key/value lines followed
// by the live sample and conditions, when present.
func (f *TableFormatter) FormatStatus(st *v1alpha1.VMStatus) (string, error) {
	var buf bytes.Buffer
	w := newTabWriter(&buf)
	vm := st.VM

	_, _ = fmt.Fprintf(w, "Name:\t%s\n", vm.Name)
	_, _ = fmt.Fprintf(w, "State:\t%s\n", vm.State)
	if vm.UUID != "" {
		_, _ = fmt.Fprintf(w, "UUID:\t%s\n", vm.UUID)
	}
	_, _ = fmt.Fprintf(w, "ID:\t%s\n", dashInt(vm.ID))
	_, _ = fmt.Fprintf(w, "vCPUs:\t%s\n", dashUint(uint64(vm.VCPUs), ""))
	_, _ = fmt.Fprintf(w, "Memory:\t%s\n", dashUint(vm.MemoryMB, " MiB"))
	if vm.CPUTime != nil {
		_, _ = fmt.Fprintf(w, "CPU time:\t%s\n", vm.CPUTime.Duration)
	}
	if vm.Uptime != nil {
		_, _ = fmt.Fprintf(w, "Uptime:\t%s\n", formatAge(vm.Uptime.Duration))
	}
	if vm.IPAddress != "" {
		_, _ = fmt.Fprintf(w, "IP address:\t%s\n", vm.IPAddress)
	}
	_, _ = fmt.Fprintf(w, "Persistent:\t%s\n", yesNo(vm.Persistent))
	_, _ = fmt.Fprintf(w, "Autostart:\t%s\n", yesNo(vm.Autostart))
	if st.Partial {
		_, _ = fmt.Fprintf(w, "Live stats:\tunavailable\n")
	}
	_ = w.Flush()

	if st.Sample != nil {
		buf.WriteString("\nLive sample (" + st.Sample.Time.Format(time.RFC3339) + ", " + st.Sample.RunState + "):\n")
		w = newTabWriter(&buf)
		for _, m := range st.Sample.Metrics {
			_, _ = fmt.Fprintf(w, "  %s\t%s\n", m.Name, formatMetric(m))
		}
		_ = w.Flush()
	}

	if len(st.Conditions) > 0 {
		buf.WriteString("\nConditions:\n")
		w = newTabWriter(&buf)
		_, _ = fmt.Fprintln(w, "  TYPE\tSTATUS\tREASON\tMESSAGE")
		for _, c := range st.Conditions {
			_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", c.Type, c.Status, dash(c.Reason), dash(c.Message))
		}
		_ = w.Flush()
	}

	return buf.String(), nil
}

// FormatSample formats a sample as one line, with any events that arrived
// since the previous sample on their own lines after it.
func (f *TableFormatter) FormatSample(name string, s *v1alpha1.StatsSample) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", s.Time.Format("15:04:05"), name, s.RunState)
	for _, m := range s.Metrics {
		fmt.Fprintf(&b, " %s=%s", m.Name, formatMetric(m))
	}
	b.WriteString("\n")
	for _, e := range s.Events {
		fmt.Fprintf(&b, "%s %s event %s\n", e.Time.Format("15:04:05"), name, e.Name)
	}
	return b.String(), nil
}

// FormatNetworks formats networks as a table.
func (f *TableFormatter) FormatNetworks(nets []v1alpha1.NetworkInfo) (string, error) {
	if len(nets) == 0 {
		return "No networks found\n", nil
	}

	var buf bytes.Buffer
	w := newTabWriter(&buf)
	f.header(w, "NAME", "ACTIVE", "AUTOSTART", "PERSISTENT", "BRIDGE")
	for _, n := range nets {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			n.Name, yesNo(n.Active), yesNo(n.Autostart), yesNo(n.Persistent), dash(n.Bridge))
	}
	_ = w.Flush()
	return buf.String(), nil
}

// FormatTemplates formats templates as a table.
func (f *TableFormatter) FormatTemplates(templates []NamedTemplate) (string, error) {
	if len(templates) == 0 {
		return "No templates configured\n", nil
	}

	var buf bytes.Buffer
	w := newTabWriter(&buf)
	f.header(w, "NAME", "OS", "VCPUS", "MEMORY", "DISK", "BOOT", "FEATURES")
	for _, t := range templates {
		boot := make([]string, 0, len(t.BootOrder))
		for _, d := range t.BootOrderOrDefault() {
			boot = append(boot, string(d))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d MiB\t%d GiB\t%s\t%s\n",
			t.Name, t.OSFamily, t.VCPUs, t.MemoryMB, t.DiskSizeGB,
			strings.Join(boot, ","), dash(strings.Join(t.Features, ",")))
	}
	_ = w.Flush()
	return buf.String(), nil
}

// FormatImageInfo formats image info as key/value lines.
func (f *TableFormatter) FormatImageInfo(info *v1alpha1.ImageInfo) (string, error) {
	var buf bytes.Buffer
	w := newTabWriter(&buf)
	_, _ = fmt.Fprintf(w, "Image:\t%s\n", info.Filename)
	_, _ = fmt.Fprintf(w, "Format:\t%s\n", info.Format)
	_, _ = fmt.Fprintf(w, "Virtual size:\t%s\n", formatBytes(info.VirtualSize))
	_, _ = fmt.Fprintf(w, "Disk size:\t%s\n", formatBytes(info.ActualSize))
	if info.BackingFile != "" {
		_, _ = fmt.Fprintf(w, "Backing file:\t%s\n", info.BackingFile)
	}
	_ = w.Flush()
	return buf.String(), nil
}

// FormatConfigReport lists issues as a table followed by changes and
// suggestions.
func (f *TableFormatter) FormatConfigReport(r *v1alpha1.ConfigReport) (string, error) {
	var buf bytes.Buffer
	if len(r.Issues) == 0 {
		_, _ = fmt.Fprintf(&buf, "No issues found for %s\n", r.VM)
	} else {
		w := newTabWriter(&buf)
		f.header(w, "NIC", "ISSUE", "MAC", "NETWORK", "FIXED", "DETAIL")
		for _, i := range r.Issues {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				i.Interface, i.Kind, dash(i.MAC), dash(i.Network), yesNo(i.Fixed), i.Detail)
		}
		_ = w.Flush()
	}

	for _, c := range r.Changes {
		_, _ = fmt.Fprintf(&buf, "✓ %s\n", c)
	}
	for _, s := range r.Suggestions {
		_, _ = fmt.Fprintf(&buf, "- %s\n", s)
	}
	if r.RestartRequired {
		_, _ = fmt.Fprintf(&buf, "Restart %s (stop, then start) to apply the changes\n", r.VM)
	}
	return buf.String(), nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func dashInt(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func dashUint(n uint64, unit string) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d%s", n, unit)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatMetric(m v1alpha1.Metric) string {
	if m.Int != nil {
		n := *m.Int
		switch m.Unit {
		case "bytes":
			if n >= 0 {
				return formatBytes(uint64(n))
			}
		case "nanoseconds":
			return time.Duration(n).Truncate(time.Millisecond).String()
		case "count", "":
			return strconv.FormatInt(n, 10)
		}
		return fmt.Sprintf("%d %s", n, m.Unit)
	}
	switch m.Unit {
	case "bytes":
		return formatBytes(uint64(m.Value))
	case "nanoseconds":
		return time.Duration(m.Value).Truncate(time.Millisecond).String()
	case "count", "":
		return fmt.Sprintf("%.0f", m.Value)
	}
	return fmt.Sprintf("%g %s", m.Value, m.Unit)
}

// formatBytes renders n in binary units: "512 B", "1.5 KiB", "2.0 GiB".
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	// Less than ~2 months (8 weeks)
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
