package parser

import (
	"encoding/json"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

type imageInfoJSON struct {
	Filename            string  `json:"filename"`
	Format              string  `json:"format"`
	VirtualSize         *uint64 `json:"virtual-size"`
	ActualSize          uint64  `json:"actual-size"`
	BackingFilename     string  `json:"backing-filename"`
	FullBackingFilename string  `json:"full-backing-filename"`
}

// ParseImageInfo parses "qemu-img info --output=json" output.
func ParseImageInfo(text string) (v1alpha1.ImageInfo, error) {
	var raw imageInfoJSON
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return v1alpha1.ImageInfo{}, &ParseError{What: "image info", Input: text, Reason: err.Error()}
	}
	if raw.Format == "" || raw.VirtualSize == nil {
		return v1alpha1.ImageInfo{}, &ParseError{What: "image info", Input: text, Reason: "missing format or virtual-size"}
	}

	backing := raw.FullBackingFilename
	if backing == "" {
		backing = raw.BackingFilename
	}
	return v1alpha1.ImageInfo{
		Filename:    raw.Filename,
		Format:      raw.Format,
		VirtualSize: *raw.VirtualSize,
		ActualSize:  raw.ActualSize,
		BackingFile: backing,
	}, nil
}

// ParseVersion extracts the first version number from a tool's --version
// output, for example "9.0.0" or "qemu-img version 8.2.2 (qemu-8.2.2)".
func ParseVersion(text string) (*version.Version, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	for _, tok := range strings.Fields(line) {
		tok = strings.Trim(tok, ",()")
		if tok == "" || tok[0] < '0' || tok[0] > '9' {
			continue
		}
		if v, err := version.NewVersion(tok); err == nil {
			return v, nil
		}
	}
	return nil, &ParseError{What: "version", Input: text, Reason: "no version number found"}
}
