// Package metadata records vmtools provenance inside a domain's <metadata>
// element, so the information travels with the domain definition and
// nothing is stored outside libvirt.
package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"libvirt.org/go/libvirtxml"
)

const (
	// Namespace is the XML namespace of the vmtools element. libvirt only
	// keeps custom metadata elements that carry a namespace.
	Namespace = "http://vmtools.cofront.xyz/v1alpha1"

	element = "instance"
)

// Info is what vmtools knows about a domain it created.
type Info struct {
	XMLName xml.Name `xml:"http://vmtools.cofront.xyz/v1alpha1 instance"`

	CreatedAt time.Time `xml:"createdAt"`

	// +optional
	Template string `xml:"template,omitempty"`

	// ClonedFrom names the source domain of a clone.
	// +optional
	ClonedFrom string `xml:"clonedFrom,omitempty"`

	// +optional
	Version string `xml:"version,omitempty"`
}

// ErrNotFound is returned by Extract when the domain carries no vmtools
// element.
var ErrNotFound = errors.New("no vmtools metadata in domain")

// Embed writes info into dom's metadata, replacing any previous vmtools
// element and keeping elements owned by other tools.
func Embed(dom *libvirtxml.Domain, info Info) error {
	data, err := xml.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata to XML: %w", err)
	}

	var rest string
	if dom.Metadata != nil {
		rest, _, err = cut(dom.Metadata.XML)
		if err != nil {
			return fmt.Errorf("failed to parse existing metadata: %w", err)
		}
	}

	dom.Metadata = &libvirtxml.DomainMetadata{
		XML: strings.TrimSpace(rest) + string(data),
	}
	return nil
}

// Extract reads the vmtools element from dom's metadata.
func Extract(dom *libvirtxml.Domain) (*Info, error) {
	if dom.Metadata == nil {
		return nil, ErrNotFound
	}
	_, ours, err := cut(dom.Metadata.XML)
	if err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}
	if ours == "" {
		return nil, ErrNotFound
	}

	var info Info
	if err := xml.Unmarshal([]byte(ours), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata XML: %w", err)
	}
	return &info, nil
}

// cut splits the inner XML of <metadata> into everything except the
// vmtools element, and the vmtools element itself.
func cut(inner string) (rest, ours string, err error) {
	d := xml.NewDecoder(strings.NewReader(inner))
	var b strings.Builder
	var last int64

	for {
		start := d.InputOffset()
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", "", err
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if err := d.Skip(); err != nil {
			return "", "", err
		}
		end := d.InputOffset()
		if se.Name.Space == Namespace && se.Name.Local == element {
			b.WriteString(inner[last:start])
			ours = inner[start:end]
			last = end
		}
	}
	b.WriteString(inner[last:])
	return b.String(), ours, nil
}
