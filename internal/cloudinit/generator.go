// Package cloudinit builds NoCloud seed images for first-boot provisioning.
//
// A seed carries user-data (hostname and SSH keys), meta-data (instance-id)
// and a netplan v2 network-config that runs DHCP on the interface matching
// the VM's MAC address.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/vmtools/internal/validate"
)

// Seed is the input for one NoCloud image.
type Seed struct {
	Name validate.Name

	// Hostname may be a bare label or an FQDN. Empty means the VM name.
	Hostname string

	// SSHKeys are authorized_keys lines, checked with ValidateKeys.
	SSHKeys []string

	// MAC of the interface that should run DHCP. Empty skips network-config
	// matching and lets the image's own defaults apply.
	MAC string

	// InstanceID is generated when empty.
	InstanceID string
}

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
type UserData struct {
	Hostname          string   `yaml:"hostname"`
	FQDN              string   `yaml:"fqdn"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
	SSHPasswordAuth   bool     `yaml:"ssh_pwauth"`
	Output            *Output  `yaml:"output,omitempty"`
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// MetaData represents the cloud-init meta-data structure.
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig represents a single ethernet interface configuration.
type EthernetConfig struct {
	Match *MatchConfig `yaml:"match,omitempty"`
	DHCP4 bool         `yaml:"dhcp4"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

const maxHostnameLength = 253

// ValidateHostname accepts a hostname or FQDN made of RFC 1123 labels.
func ValidateHostname(h string) error {
	if h == "" || len(h) > maxHostnameLength {
		return &validate.SecurityViolation{Input: h, Reason: "hostname is empty or too long"}
	}
	for _, label := range strings.Split(h, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return &validate.SecurityViolation{Input: h, Reason: fmt.Sprintf("invalid hostname label %q", label)}
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '-' {
				return &validate.SecurityViolation{Input: h, Reason: fmt.Sprintf("hostname contains invalid character %q", r)}
			}
		}
	}
	return nil
}

// ValidateKeys parses each key as an authorized_keys line. Keys are written
// verbatim into user-data, so anything that does not parse is refused.
func ValidateKeys(keys []string) error {
	var errs []error
	for i, k := range keys {
		if strings.ContainsAny(k, "\r\n") {
			errs = append(errs, fmt.Errorf("ssh key %d: contains a line break", i+1))
			continue
		}
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k)); err != nil {
			errs = append(errs, fmt.Errorf("ssh key %d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Seed) names() (hostname, fqdn string) {
	fqdn = s.Hostname
	if fqdn == "" {
		fqdn = s.Name.String()
	}
	hostname, _, _ = strings.Cut(fqdn, ".")
	return hostname, fqdn
}

func (s *Seed) check() error {
	if s == nil {
		return fmt.Errorf("seed cannot be nil")
	}
	if s.Name.IsZero() {
		return fmt.Errorf("seed requires a validated VM name")
	}
	if s.Hostname != "" {
		if err := ValidateHostname(s.Hostname); err != nil {
			return err
		}
	}
	return ValidateKeys(s.SSHKeys)
}

// GenerateUserData returns the user-data file including the "#cloud-config"
// header.
func GenerateUserData(s *Seed) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	hostname, fqdn := s.names()

	userData := UserData{
		Hostname:          hostname,
		FQDN:              fqdn,
		SSHAuthorizedKeys: s.SSHKeys,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData returns the meta-data file. A fresh instance-id makes
// cloud-init treat a recreated VM of the same name as a first boot.
func GenerateMetaData(s *Seed) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}
	hostname, _ := s.names()

	id := s.InstanceID
	if id == "" {
		id = "iid-" + uuid.NewString()
	}

	yamlBytes, err := yaml.Marshal(&MetaData{InstanceID: id, LocalHostname: hostname})
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

// GenerateNetworkConfig returns a netplan v2 document with DHCP on the
// seed's interface.
func GenerateNetworkConfig(s *Seed) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}

	eth := EthernetConfig{DHCP4: true}
	if s.MAC != "" {
		eth.Match = &MatchConfig{MACAddress: strings.ToLower(s.MAC)}
	}
	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: map[string]EthernetConfig{"eth0": eth},
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}
	return string(yamlBytes), nil
}
