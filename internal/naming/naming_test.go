package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/jbweber/vmtools/internal/validate"
)

func mustDir(t *testing.T) validate.Path {
	t.Helper()
	dir, err := validate.Dir(t.TempDir())
	if err != nil {
		t.Fatalf("validate.Dir() error = %v", err)
	}
	return dir
}

func mustName(t *testing.T, s string) validate.Name {
	t.Helper()
	n, err := validate.Identifier(s)
	if err != nil {
		t.Fatalf("validate.Identifier(%q) error = %v", s, err)
	}
	return n
}

func TestPaths(t *testing.T) {
	dir := mustDir(t)
	name := mustName(t, "web-server")

	tests := []struct {
		name string
		fn   func() (validate.Path, error)
		want string
	}{
		{
			name: "qcow2 disk",
			fn:   func() (validate.Path, error) { return Disk(dir, name, "qcow2") },
			want: "web-server.qcow2",
		},
		{
			name: "raw disk",
			fn:   func() (validate.Path, error) { return Disk(dir, name, "raw") },
			want: "web-server.raw",
		},
		{
			name: "seed iso",
			fn:   func() (validate.Path, error) { return SeedISO(dir, name) },
			want: "web-server-seed.iso",
		},
		{
			name: "socket",
			fn:   func() (validate.Path, error) { return Socket(dir, name) },
			want: "web-server.qmp",
		},
		{
			name: "pidfile",
			fn:   func() (validate.Path, error) { return PidFile(dir, name) },
			want: "web-server.pid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("error = %v", err)
			}
			if got.String() != filepath.Join(dir.String(), tt.want) {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestDisk_RejectsBadFormat(t *testing.T) {
	dir := mustDir(t)
	name := mustName(t, "demo")

	for _, format := range []string{"../x", "qcow2/..", "q cow"} {
		if _, err := Disk(dir, name, format); err == nil {
			t.Errorf("Disk(%q) expected error", format)
		}
	}
}

func TestTempPattern(t *testing.T) {
	got := TempPattern(mustName(t, "demo"))
	want := fmt.Sprintf("vmtools-%d-demo-*.xml", os.Getpid())
	if got != want {
		t.Errorf("TempPattern() = %s, want %s", got, want)
	}
	if strings.Count(got, "*") != 1 {
		t.Errorf("pattern must have exactly one wildcard: %s", got)
	}
}

func TestRandomMAC(t *testing.T) {
	re := regexp.MustCompile(`^52:54:00:[0-9a-f]{2}:[0-9a-f]{2}:[0-9a-f]{2}$`)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		mac, err := RandomMAC()
		if err != nil {
			t.Fatalf("RandomMAC() error = %v", err)
		}
		if !re.MatchString(mac) {
			t.Errorf("RandomMAC() = %s, not in 52:54:00 prefix", mac)
		}
		seen[mac] = true
	}
	if len(seen) < 2 {
		t.Error("RandomMAC() returned the same address every time")
	}
}
