package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

// JSONFormatter formats records as indented JSON. Samples are written one
// per line so a monitor stream is valid JSON Lines.
type JSONFormatter struct{}

func marshalIndent(v interface{}, what string) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return "", fmt.Errorf("failed to marshal %s to JSON: %w", what, err)
	}
	return buf.String(), nil
}

// FormatVMList formats the VMs as a Kubernetes-style List object:
//
//	{
//	  "apiVersion": "vmtools.cofront.xyz/v1alpha1",
//	  "kind": "VirtualMachineList",
//	  "items": [...]
//	}
func (f *JSONFormatter) FormatVMList(vms []v1alpha1.VirtualMachine) (string, error) {
	items := make([]v1alpha1.VirtualMachine, len(vms))
	for i, vm := range vms {
		v1alpha1.SetDefaultAPIVersion(&vm)
		items[i] = vm
	}

	wrapper := map[string]interface{}{
		"apiVersion": v1alpha1.APIVersion(),
		"kind":       v1alpha1.VirtualMachineKind + "List",
		"items":      items,
	}
	return marshalIndent(wrapper, "VM list")
}

// FormatStatus formats a status report as JSON.
func (f *JSONFormatter) FormatStatus(st *v1alpha1.VMStatus) (string, error) {
	return marshalIndent(st, "status")
}

// FormatSample formats a sample as a single JSON line.
func (f *JSONFormatter) FormatSample(name string, s *v1alpha1.StatsSample) (string, error) {
	data, err := json.Marshal(struct {
		Name string `json:"name"`
		v1alpha1.StatsSample
	}{name, *s})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sample to JSON: %w", err)
	}
	return string(data) + "\n", nil
}

// FormatNetworks formats networks as a JSON array.
func (f *JSONFormatter) FormatNetworks(nets []v1alpha1.NetworkInfo) (string, error) {
	if len(nets) == 0 {
		return "[]\n", nil
	}
	return marshalIndent(nets, "networks")
}

// FormatTemplates formats templates as a JSON array.
func (f *JSONFormatter) FormatTemplates(templates []NamedTemplate) (string, error) {
	if len(templates) == 0 {
		return "[]\n", nil
	}
	return marshalIndent(templates, "templates")
}

// FormatImageInfo formats image info as JSON.
func (f *JSONFormatter) FormatImageInfo(info *v1alpha1.ImageInfo) (string, error) {
	return marshalIndent(info, "image info")
}

// FormatConfigReport formats a configuration report as JSON.
func (f *JSONFormatter) FormatConfigReport(r *v1alpha1.ConfigReport) (string, error) {
	return marshalIndent(r, "report")
}
