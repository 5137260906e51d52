package diskimg

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/jbweber/vmtools/internal/validate"
)

// Dependents returns the images in dir whose qcow2 backing file is one of
// disks. Backing names are resolved relative to the overlay's directory and
// then through symlinks, so differently spelled paths to the same file match.
// The disks themselves are never reported.
func Dependents(dir validate.Path, disks []string) ([]string, error) {
	targets := make(map[string]bool, len(disks))
	for _, d := range disks {
		targets[canonical(d)] = true
	}

	entries, err := os.ReadDir(dir.String())
	if err != nil {
		return nil, fmt.Errorf("failed to scan images directory: %w", err)
	}

	var deps []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir.String(), e.Name())
		if targets[canonical(path)] {
			continue
		}

		backing, err := BackingFile(path)
		if err != nil || backing == "" {
			continue
		}
		if !filepath.IsAbs(backing) {
			backing = filepath.Join(filepath.Dir(path), backing)
		}
		if targets[canonical(backing)] {
			deps = append(deps, path)
		}
	}
	slices.Sort(deps)
	return deps, nil
}

func canonical(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return filepath.Clean(p)
}
