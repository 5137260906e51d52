package libvirt

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// TestConnect tests basic connection functionality.
// This is an integration test that requires libvirt to be running.
func TestConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	c, err := Connect("", 0)
	if err != nil {
		t.Skipf("libvirt not available: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	info, err := c.Info()
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.LibVersion == nil {
		t.Fatal("Info returned no libvirt version")
	}
}

// TestConnect_InvalidSocket tests connection failure with invalid socket.
func TestConnect_InvalidSocket(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "nonexistent"), 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected error connecting to nonexistent socket, got nil")
	}
}

// TestConnectWithContext_Cancellation tests context cancellation.
func TestConnectWithContext_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ConnectWithContext(ctx, filepath.Join(t.TempDir(), "sock"), 0)
	if err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
}

func TestProbe_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := Probe(ctx, filepath.Join(t.TempDir(), "sock"), 100*time.Millisecond); err == nil {
		t.Fatal("expected error probing a missing daemon")
	}
}

// TestClose_Idempotent tests that Close can be called multiple times safely.
func TestClose_Idempotent(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestInfo_Disconnected(t *testing.T) {
	c := &Client{libvirt: nil}

	if _, err := c.Info(); err == nil {
		t.Fatal("expected error from Info on nil client, got nil")
	}
}

func TestDecodeVersion(t *testing.T) {
	tests := []struct {
		in   uint64
		want string
	}{
		{10000000, "10.0.0"},
		{9007002, "9.7.2"},
		{8002000, "8.2.0"},
	}
	for _, tt := range tests {
		if got := DecodeVersion(tt.in).String(); got != tt.want {
			t.Errorf("DecodeVersion(%d) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
