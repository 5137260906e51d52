package diskimg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jbweber/vmtools/internal/invoke"
	"github.com/jbweber/vmtools/internal/validate"
)

type recordingRunner struct {
	calls  []invoke.Command
	stdout string
	err    error
}

func (r *recordingRunner) Run(_ context.Context, cmd invoke.Command, _ time.Duration) (invoke.Output, error) {
	r.calls = append(r.calls, cmd)
	return invoke.Output{Stdout: r.stdout}, r.err
}

func (r *recordingRunner) argv(i int) string {
	return strings.Join(r.calls[i].Argv(), " ")
}

func paths(t *testing.T) (validate.Path, validate.Path, validate.Path) {
	t.Helper()
	dir, err := validate.Dir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	a, err := validate.Child(dir, mustName(t, "demo"), ".qcow2")
	if err != nil {
		t.Fatal(err)
	}
	b, err := validate.Child(dir, mustName(t, "clone"), ".qcow2")
	if err != nil {
		t.Fatal(err)
	}
	return dir, a, b
}

func mustName(t *testing.T, s string) validate.Name {
	t.Helper()
	n, err := validate.Identifier(s)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestTool_Commands(t *testing.T) {
	_, src, dst := paths(t)

	tests := []struct {
		name string
		run  func(*Tool) error
		want string
	}{
		{
			name: "create",
			run:  func(tl *Tool) error { return tl.Create(context.Background(), src, FormatQCOW2, 20) },
			want: "create -f qcow2 " + src.String() + " 20G",
		},
		{
			name: "overlay",
			run:  func(tl *Tool) error { return tl.Overlay(context.Background(), src, FormatQCOW2, dst) },
			want: "create -f qcow2 -b " + src.String() + " -F qcow2 " + dst.String(),
		},
		{
			name: "convert",
			run:  func(tl *Tool) error { return tl.Convert(context.Background(), src, dst) },
			want: "convert -O qcow2 " + src.String() + " " + dst.String(),
		},
		{
			name: "resize",
			run:  func(tl *Tool) error { return tl.Resize(context.Background(), src, 40) },
			want: "resize " + src.String() + " 40G",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recordingRunner{}
			if err := tt.run(NewTool(r, "/usr/bin/qemu-img", 0)); err != nil {
				t.Fatalf("error = %v", err)
			}
			if len(r.calls) != 1 {
				t.Fatalf("expected 1 call, got %d", len(r.calls))
			}
			if r.calls[0].Tool != "/usr/bin/qemu-img" {
				t.Errorf("tool = %s", r.calls[0].Tool)
			}
			if got := r.argv(0); got != tt.want {
				t.Errorf("argv = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTool_CreateRejectsUnknownFormat(t *testing.T) {
	_, src, _ := paths(t)
	r := &recordingRunner{}
	if err := NewTool(r, "", 0).Create(context.Background(), src, Format("vmdk"), 10); err == nil {
		t.Fatal("expected error")
	}
	if len(r.calls) != 0 {
		t.Errorf("runner called %d times", len(r.calls))
	}
}

func TestTool_Info(t *testing.T) {
	_, src, _ := paths(t)
	r := &recordingRunner{stdout: `{"filename": "` + src.String() + `", "format": "qcow2", "virtual-size": 10737418240, "actual-size": 196608}`}

	info, err := NewTool(r, "", 0).Info(context.Background(), src)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Format != "qcow2" || info.VirtualSize != 10737418240 {
		t.Errorf("Info() = %+v", info)
	}
	if !strings.Contains(r.argv(0), "--output=json") {
		t.Errorf("argv = %q", r.argv(0))
	}
}

func TestTool_ErrorsWrapInvocation(t *testing.T) {
	_, src, _ := paths(t)
	ierr := &invoke.InvocationError{Kind: invoke.KindNonZeroExit, ExitCode: 1, Stderr: "Could not open"}
	r := &recordingRunner{err: ierr}

	err := NewTool(r, "", 0).Resize(context.Background(), src, 40)
	if !errors.Is(err, invoke.ErrNonZeroExit) {
		t.Fatalf("error = %v, want wrapped invocation error", err)
	}
}

func TestTool_Version(t *testing.T) {
	r := &recordingRunner{stdout: "qemu-img version 8.2.2 (qemu-8.2.2)\nCopyright (c) 2003-2023 Fabrice Bellard\n"}
	v, err := NewTool(r, "", 0).Version(context.Background())
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if v.String() != "8.2.2" {
		t.Errorf("Version() = %s", v)
	}
}
