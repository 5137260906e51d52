// Package validate guards every user-controlled string before it reaches a
// process argument, a file path or a generated domain document.
//
// The functions here are pure. They return opaque value types (Name, Path,
// URI) that downstream packages accept instead of plain strings, so an
// unvalidated value cannot be passed along by accident.
package validate

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/jbweber/vmtools/internal/fault"
)

// MaxIdentifierLength is the longest accepted VM or network name.
const MaxIdentifierLength = 64

// SecurityViolation reports input rejected by an identifier or path check.
// Input echoes the offending value for diagnosis.
type SecurityViolation struct {
	Input  string
	Reason string
}

func (e *SecurityViolation) Error() string {
	return fmt.Sprintf("security violation: %s: %q", e.Reason, e.Input)
}

// Boundary implements fault.Bounded.
func (e *SecurityViolation) Boundary() fault.Boundary {
	return fault.BoundaryValidation
}

// Name is a validated identifier.
type Name struct {
	s string
}

// String returns the identifier exactly as supplied.
func (n Name) String() string {
	return n.s
}

// IsZero reports whether n was never validated.
func (n Name) IsZero() bool {
	return n.s == ""
}

// Identifier validates a VM or network name.
func Identifier(name string) (Name, error) {
	if name == "" {
		return Name{}, &SecurityViolation{Input: name, Reason: "identifier is empty"}
	}
	if len(name) > MaxIdentifierLength {
		return Name{}, &SecurityViolation{
			Input:  name,
			Reason: fmt.Sprintf("identifier exceeds %d characters", MaxIdentifierLength),
		}
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return Name{}, &SecurityViolation{Input: name, Reason: "identifier contains a path separator or traversal sequence"}
	}
	if name[0] == '-' {
		return Name{}, &SecurityViolation{Input: name, Reason: "identifier starts with '-'"}
	}
	if name[0] == '.' {
		return Name{}, &SecurityViolation{Input: name, Reason: "identifier starts with '.'"}
	}
	for _, r := range name {
		if !isIdentRune(r) {
			return Name{}, &SecurityViolation{
				Input:  name,
				Reason: fmt.Sprintf("identifier contains invalid character %q", r),
			}
		}
	}
	return Name{s: name}, nil
}

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

// Path is a canonical absolute path known to lie under a required prefix.
type Path struct {
	p string
}

// String returns the canonical path.
func (p Path) String() string {
	return p.p
}

// IsZero reports whether p was never validated.
func (p Path) IsZero() bool {
	return p.p == ""
}

// SystemPath resolves path to its canonical absolute form, following
// symlinks, and rejects it unless it is requiredPrefix or lies beneath it.
// The prefix is canonicalized the same way. Both must exist.
func SystemPath(path, requiredPrefix string) (Path, error) {
	canon, err := canonical(path)
	if err != nil {
		return Path{}, &SecurityViolation{Input: path, Reason: err.Error()}
	}
	prefix, err := canonical(requiredPrefix)
	if err != nil {
		return Path{}, &SecurityViolation{Input: requiredPrefix, Reason: "required prefix: " + err.Error()}
	}
	if !within(canon, prefix) {
		return Path{}, &SecurityViolation{
			Input:  path,
			Reason: fmt.Sprintf("path resolves outside %s", prefix),
		}
	}
	return Path{p: canon}, nil
}

// Dir validates a configured directory, which is its own required prefix.
func Dir(dir string) (Path, error) {
	return SystemPath(dir, dir)
}

// Child derives a file path inside an already validated directory. The
// suffix is a program literal such as ".qcow2".
func Child(dir Path, name Name, suffix string) (Path, error) {
	if dir.IsZero() || name.IsZero() {
		return Path{}, &SecurityViolation{Input: name.String(), Reason: "child path from unvalidated parts"}
	}
	if strings.Contains(suffix, "..") || strings.ContainsAny(suffix, `/\`) {
		return Path{}, &SecurityViolation{Input: suffix, Reason: "suffix contains a path separator or traversal sequence"}
	}
	for _, r := range suffix {
		if !isIdentRune(r) && r != '.' {
			return Path{}, &SecurityViolation{Input: suffix, Reason: fmt.Sprintf("suffix contains invalid character %q", r)}
		}
	}
	return Path{p: filepath.Join(dir.p, name.s+suffix)}, nil
}

// Under reports whether p lies inside dir.
func Under(p, dir Path) bool {
	return within(p.p, dir.p)
}

func canonical(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains NUL byte")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot make path absolute: %v", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path: %v", err)
	}
	return resolved, nil
}

func within(path, prefix string) bool {
	if path == prefix {
		return true
	}
	if prefix == string(filepath.Separator) {
		return strings.HasPrefix(path, prefix)
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// URI is a validated libvirt connection URI.
type URI struct {
	s string
}

func (u URI) String() string {
	return u.s
}

// IsZero reports whether no URI was configured.
func (u URI) IsZero() bool {
	return u.s == ""
}

var uriSchemes = map[string]bool{
	"qemu":      true,
	"qemu+unix": true,
	"qemu+ssh":  true,
	"qemu+tcp":  true,
	"qemu+tls":  true,
	"test":      true,
}

// ConnectionURI validates a libvirt connection URI such as qemu:///system.
func ConnectionURI(uri string) (URI, error) {
	if uri == "" {
		return URI{}, &SecurityViolation{Input: uri, Reason: "connection URI is empty"}
	}
	if strings.HasPrefix(uri, "-") {
		return URI{}, &SecurityViolation{Input: uri, Reason: "connection URI starts with '-'"}
	}
	for _, r := range uri {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return URI{}, &SecurityViolation{Input: uri, Reason: "connection URI contains whitespace or control characters"}
		}
	}
	u, err := url.Parse(uri)
	if err != nil {
		return URI{}, &SecurityViolation{Input: uri, Reason: "connection URI is malformed"}
	}
	if !uriSchemes[u.Scheme] {
		return URI{}, &SecurityViolation{Input: uri, Reason: fmt.Sprintf("unsupported connection scheme %q", u.Scheme)}
	}
	return URI{s: uri}, nil
}

// MaxQCodeLength bounds a single key name passed to send-key.
const MaxQCodeLength = 32

// QCode validates a key name for the monitor's send-key command, such as
// "ctrl", "alt" or "f2".
func QCode(key string) (string, error) {
	if key == "" || len(key) > MaxQCodeLength {
		return "", &SecurityViolation{Input: key, Reason: "key name is empty or too long"}
	}
	for _, r := range key {
		if !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '_' {
			return "", &SecurityViolation{Input: key, Reason: fmt.Sprintf("key name contains invalid character %q", r)}
		}
	}
	return key, nil
}
