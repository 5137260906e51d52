package cloudinit

import (
	"bytes"
	"fmt"
	"os"

	"github.com/kdomanski/iso9660"

	"github.com/jbweber/vmtools/internal/validate"
)

// VolumeID is the label the NoCloud datasource looks for.
const VolumeID = "CIDATA"

// GenerateISO builds the seed image in memory. The root directory holds
// user-data, meta-data and network-config.
func GenerateISO(s *Seed) ([]byte, error) {
	userData, err := GenerateUserData(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}
	metaData, err := GenerateMetaData(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}
	networkConfig, err := GenerateNetworkConfig(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate network-config: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		_ = writer.Cleanup()
	}()

	files := []struct {
		name string
		data string
	}{
		{"user-data", userData},
		{"meta-data", metaData},
		{"network-config", networkConfig},
	}
	for _, f := range files {
		if err := writer.AddFile(bytes.NewReader([]byte(f.data)), f.name); err != nil {
			return nil, fmt.Errorf("failed to add %s: %w", f.name, err)
		}
	}

	var buf bytes.Buffer
	if err := writer.WriteTo(&buf, VolumeID); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteISO generates the seed image and writes it to path, which must not
// exist yet.
func WriteISO(path validate.Path, s *Seed) error {
	data, err := GenerateISO(s)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path.String(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create seed ISO: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path.String())
		return fmt.Errorf("failed to write seed ISO: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path.String())
		return fmt.Errorf("failed to write seed ISO: %w", err)
	}
	return nil
}
