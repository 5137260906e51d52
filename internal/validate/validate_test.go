package validate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/vmtools/internal/fault"
)

func TestIdentifier_Valid(t *testing.T) {
	names := []string{
		"demo",
		"demo-1",
		"web_server_01",
		"A",
		"0",
		"vm-",
		strings.Repeat("a", MaxIdentifierLength),
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			n, err := Identifier(name)
			require.NoError(t, err)
			assert.Equal(t, name, n.String())
			assert.False(t, n.IsZero())
		})
	}
}

func TestIdentifier_Rejected(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("a", MaxIdentifierLength+1)},
		{"dot dot", "a..b"},
		{"traversal", "../etc"},
		{"slash", "a/b"},
		{"backslash", `a\b`},
		{"leading dash", "-rf"},
		{"leading dot", ".hidden"},
		{"space", "my vm"},
		{"semicolon", "vm;reboot"},
		{"dollar", "vm$HOME"},
		{"newline", "vm\n"},
		{"unicode", "vmé"},
		{"nul", "vm\x00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Identifier(tt.input)
			require.Error(t, err)

			var sv *SecurityViolation
			require.True(t, errors.As(err, &sv))
			assert.Equal(t, tt.input, sv.Input)
			assert.Equal(t, fault.BoundaryValidation, fault.BoundaryOf(err))
		})
	}
}

func TestSystemPath(t *testing.T) {
	root := t.TempDir()
	images := filepath.Join(root, "images")
	outside := filepath.Join(root, "outside")
	sibling := filepath.Join(root, "images2")
	for _, d := range []string{images, outside, sibling} {
		require.NoError(t, os.MkdirAll(d, 0o755))
	}

	disk := filepath.Join(images, "demo.qcow2")
	require.NoError(t, os.WriteFile(disk, []byte("x"), 0o600))
	secret := filepath.Join(outside, "secret")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(sibling, "d"), []byte("x"), 0o600))

	escape := filepath.Join(images, "escape")
	require.NoError(t, os.Symlink(secret, escape))
	inner := filepath.Join(outside, "inner")
	require.NoError(t, os.Symlink(disk, inner))

	t.Run("inside", func(t *testing.T) {
		p, err := SystemPath(disk, images)
		require.NoError(t, err)
		want, _ := filepath.EvalSymlinks(disk)
		assert.Equal(t, want, p.String())
	})

	t.Run("prefix itself", func(t *testing.T) {
		_, err := SystemPath(images, images)
		require.NoError(t, err)
	})

	t.Run("dot dot escape", func(t *testing.T) {
		_, err := SystemPath(filepath.Join(images, "..", "outside", "secret"), images)
		var sv *SecurityViolation
		require.ErrorAs(t, err, &sv)
	})

	t.Run("symlink escape", func(t *testing.T) {
		_, err := SystemPath(escape, images)
		var sv *SecurityViolation
		require.ErrorAs(t, err, &sv)
	})

	t.Run("symlink into prefix", func(t *testing.T) {
		p, err := SystemPath(inner, images)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(p.String(), "demo.qcow2"))
	})

	t.Run("sibling with shared prefix", func(t *testing.T) {
		_, err := SystemPath(filepath.Join(sibling, "d"), images)
		var sv *SecurityViolation
		require.ErrorAs(t, err, &sv)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := SystemPath(filepath.Join(images, "nope"), images)
		var sv *SecurityViolation
		require.ErrorAs(t, err, &sv)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := SystemPath("", images)
		require.Error(t, err)
	})
}

func TestChild(t *testing.T) {
	dir, err := Dir(t.TempDir())
	require.NoError(t, err)
	name, err := Identifier("demo")
	require.NoError(t, err)

	p, err := Child(dir, name, ".qcow2")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir.String(), "demo.qcow2"), p.String())
	assert.True(t, Under(p, dir))

	_, err = Child(dir, name, "/../x")
	require.Error(t, err)

	_, err = Child(Path{}, name, ".qcow2")
	require.Error(t, err)
}

func TestConnectionURI(t *testing.T) {
	for _, ok := range []string{"qemu:///system", "qemu:///session", "qemu+ssh://root@host/system", "test:///default"} {
		u, err := ConnectionURI(ok)
		assert.NoError(t, err, ok)
		assert.False(t, u.IsZero(), ok)
	}
	assert.True(t, URI{}.IsZero())
	for _, bad := range []string{"", "-c", "qemu:///system --readonly", "http://example.com", "qemu:///sys\ttem"} {
		_, err := ConnectionURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestResources(t *testing.T) {
	assert.NoError(t, Memory(2048))
	assert.Error(t, Memory(64))
	assert.Error(t, Memory(MaxMemoryMB+1))

	assert.NoError(t, CPUs(2))
	assert.Error(t, CPUs(0))
	assert.Error(t, CPUs(257))

	assert.NoError(t, DiskSize(20))
	assert.Error(t, DiskSize(0))
	err := DiskSize(20000)
	var re *RangeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "disk size", re.Field)
	assert.Equal(t, fault.BoundaryValidation, fault.BoundaryOf(err))
}

func TestArchitecture(t *testing.T) {
	for _, ok := range []string{"x86_64", "aarch64"} {
		assert.NoError(t, Architecture(ok), ok)
	}
	for _, bad := range []string{"", "--evil arch;$(id)", "X86_64", "x86_64 "} {
		err := Architecture(bad)
		assert.Error(t, err, bad)
		assert.Equal(t, fault.BoundaryValidation, fault.BoundaryOf(err), bad)
	}
}

func TestMachineType(t *testing.T) {
	for _, ok := range []string{"q35", "pc", "pc-q35-8.2", "virt", "pc-i440fx_9.0"} {
		assert.NoError(t, MachineType(ok), ok)
	}
	for _, bad := range []string{"", "../../q35 <x>", "-machine", ".hidden", "q35;id", strings.Repeat("q", MaxMachineTypeLength+1)} {
		assert.Error(t, MachineType(bad), bad)
	}
}

func TestQCode(t *testing.T) {
	for _, ok := range []string{"ctrl", "alt", "delete", "f2", "kp_enter", "a"} {
		got, err := QCode(ok)
		require.NoError(t, err, ok)
		assert.Equal(t, ok, got)
	}
	for _, bad := range []string{"", "Ctrl", "ctrl-alt", "a b", "\"x\"", strings.Repeat("a", MaxQCodeLength+1)} {
		_, err := QCode(bad)
		var sv *SecurityViolation
		assert.ErrorAs(t, err, &sv, bad)
	}
}
