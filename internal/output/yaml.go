package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

// YAMLFormatter formats records as YAML.
type YAMLFormatter struct{}

// FormatVMList formats the VMs as a YAML stream (multiple documents
// separated by ---).
func (f *YAMLFormatter) FormatVMList(vms []v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	for i, vm := range vms {
		v1alpha1.SetDefaultAPIVersion(&vm)

		data, err := yaml.Marshal(&vm)
		if err != nil {
			return "", fmt.Errorf("failed to marshal VM %s to YAML: %w", vm.Name, err)
		}

		// Add document separator between VMs (but not before the first one)
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.String(), nil
}

// FormatStatus formats a status report as YAML.
func (f *YAMLFormatter) FormatStatus(st *v1alpha1.VMStatus) (string, error) {
	data, err := yaml.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("failed to marshal status to YAML: %w", err)
	}
	return string(data), nil
}

// FormatSample formats a sample as one document of a YAML stream.
func (f *YAMLFormatter) FormatSample(name string, s *v1alpha1.StatsSample) (string, error) {
	data, err := yaml.Marshal(struct {
		Name                 string `yaml:"name"`
		v1alpha1.StatsSample `yaml:",inline"`
	}{name, *s})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sample to YAML: %w", err)
	}
	return "---\n" + string(data), nil
}

// FormatNetworks formats networks as a YAML sequence.
func (f *YAMLFormatter) FormatNetworks(nets []v1alpha1.NetworkInfo) (string, error) {
	if len(nets) == 0 {
		return "[]\n", nil
	}
	data, err := yaml.Marshal(nets)
	if err != nil {
		return "", fmt.Errorf("failed to marshal networks to YAML: %w", err)
	}
	return string(data), nil
}

// FormatTemplates formats templates as a YAML sequence.
func (f *YAMLFormatter) FormatTemplates(templates []NamedTemplate) (string, error) {
	if len(templates) == 0 {
		return "[]\n", nil
	}
	data, err := yaml.Marshal(templates)
	if err != nil {
		return "", fmt.Errorf("failed to marshal templates to YAML: %w", err)
	}
	return string(data), nil
}

// FormatImageInfo formats image info as YAML.
func (f *YAMLFormatter) FormatImageInfo(info *v1alpha1.ImageInfo) (string, error) {
	data, err := yaml.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("failed to marshal image info to YAML: %w", err)
	}
	return string(data), nil
}

// FormatConfigReport formats a configuration report as YAML.
func (f *YAMLFormatter) FormatConfigReport(r *v1alpha1.ConfigReport) (string, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report to YAML: %w", err)
	}
	return string(data), nil
}
