package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
	"github.com/hashicorp/go-version"
)

// DefaultSocket is the local qemu:///system daemon socket.
const DefaultSocket = "/var/run/libvirt/libvirt-sock"

// Client is a direct RPC connection to the local libvirt daemon. vmtools
// drives domains through virsh; the RPC connection is only used to check
// that the daemon is reachable and to report its versions.
type Client struct {
	libvirt *libvirt.Libvirt
}

// Connect establishes a connection to the local libvirt daemon.
// It returns a Client that must be closed via Close() when done.
//
// If socketPath is empty, defaults to DefaultSocket.
// If timeout is zero, defaults to 5 seconds.
func Connect(socketPath string, timeout time.Duration) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocket
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(timeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}

	return &Client{libvirt: l}, nil
}

// ConnectWithContext establishes a connection with context support for cancellation.
func ConnectWithContext(ctx context.Context, socketPath string, timeout time.Duration) (*Client, error) {
	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		c, err := Connect(socketPath, timeout)
		resultCh <- result{client: c, err: err}
	}()

	select {
	case <-ctx.Done():
		// Reap a connection that completes after we gave up on it.
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close closes the libvirt connection and releases resources.
// It is safe to call Close multiple times.
func (c *Client) Close() error {
	if c.libvirt == nil {
		return nil
	}
	l := c.libvirt
	c.libvirt = nil

	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

// DaemonInfo describes the connected libvirt daemon.
type DaemonInfo struct {
	Hostname          string
	Hypervisor        string
	LibVersion        *version.Version
	HypervisorVersion *version.Version
}

// Info queries the daemon's identity and versions.
func (c *Client) Info() (DaemonInfo, error) {
	if c.libvirt == nil {
		return DaemonInfo{}, fmt.Errorf("client not connected")
	}

	var info DaemonInfo
	lib, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return info, fmt.Errorf("failed to get libvirt version: %w", err)
	}
	info.LibVersion = DecodeVersion(lib)

	if hv, err := c.libvirt.ConnectGetVersion(); err == nil {
		info.HypervisorVersion = DecodeVersion(hv)
	}
	if typ, err := c.libvirt.ConnectGetType(); err == nil {
		info.Hypervisor = typ
	}
	if host, err := c.libvirt.ConnectGetHostname(); err == nil {
		info.Hostname = host
	}
	return info, nil
}

// Probe connects, reads DaemonInfo and disconnects.
func Probe(ctx context.Context, socketPath string, timeout time.Duration) (DaemonInfo, error) {
	c, err := ConnectWithContext(ctx, socketPath, timeout)
	if err != nil {
		return DaemonInfo{}, err
	}
	defer func() { _ = c.Close() }()

	return c.Info()
}

// DecodeVersion converts libvirt's packed major*1000000+minor*1000+micro
// encoding.
func DecodeVersion(v uint64) *version.Version {
	major := v / 1000000
	minor := (v / 1000) % 1000
	micro := v % 1000
	return version.Must(version.NewVersion(fmt.Sprintf("%d.%d.%d", major, minor, micro)))
}
