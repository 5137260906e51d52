// Package output provides formatters for displaying vmtools records
// in various formats (table, YAML, JSON).
package output

import (
	"fmt"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table format.
	FormatTable Format = "table"
	// FormatYAML is a YAML format.
	FormatYAML Format = "yaml"
	// FormatJSON is a JSON format for machine consumption.
	FormatJSON Format = "json"
)

// NamedTemplate pairs a configured template with its name for display.
type NamedTemplate struct {
	Name              string `json:"name" yaml:"name"`
	v1alpha1.Template `json:",inline" yaml:",inline"`
}

// Formatter formats vmtools records for output.
type Formatter interface {
	// FormatVMList formats the result of a list query.
	FormatVMList(vms []v1alpha1.VirtualMachine) (string, error)

	// FormatStatus formats a single status report.
	FormatStatus(st *v1alpha1.VMStatus) (string, error)

	// FormatSample formats one live sample from a monitor stream. Each call
	// yields a self-contained chunk so samples can be printed as they arrive.
	FormatSample(name string, s *v1alpha1.StatsSample) (string, error)

	FormatNetworks(nets []v1alpha1.NetworkInfo) (string, error)

	FormatTemplates(templates []NamedTemplate) (string, error)

	FormatImageInfo(info *v1alpha1.ImageInfo) (string, error)

	// FormatConfigReport formats the outcome of fix-network, fix-clipboard
	// or optimize.
	FormatConfigReport(r *v1alpha1.ConfigReport) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable, "":
		return &TableFormatter{NoHeaders: opts.NoHeaders}, nil
	case FormatYAML:
		return &YAMLFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, yaml, json)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, yaml, json)", format)
	}
}
