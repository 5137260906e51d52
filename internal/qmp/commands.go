package qmp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
)

// StatusInfo is the reply to query-status.
type StatusInfo struct {
	Status     string `json:"status"`
	Running    bool   `json:"running"`
	Singlestep bool   `json:"singlestep"`
}

// BalloonInfo is the reply to query-balloon.
type BalloonInfo struct {
	Actual int64 `json:"actual"`
}

// BlockStats is one device of the reply to query-blockstats.
type BlockStats struct {
	Device   string `json:"device"`
	NodeName string `json:"node-name"`
	QDev     string `json:"qdev"`
	Stats    struct {
		RdBytes         int64 `json:"rd_bytes"`
		WrBytes         int64 `json:"wr_bytes"`
		RdOperations    int64 `json:"rd_operations"`
		WrOperations    int64 `json:"wr_operations"`
		FlushOperations int64 `json:"flush_operations"`
		RdTotalTimeNs   int64 `json:"rd_total_time_ns"`
		WrTotalTimeNs   int64 `json:"wr_total_time_ns"`
	} `json:"stats"`
}

// CPUInfo is one vCPU of the reply to query-cpus-fast.
type CPUInfo struct {
	CPUIndex int    `json:"cpu-index"`
	QOMPath  string `json:"qom-path"`
	ThreadID int    `json:"thread-id"`
	Target   string `json:"target"`
}

func decode[T any](raw json.RawMessage, command string) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, &ProtocolError{Op: command, Err: fmt.Errorf("%w: %v", ErrMalformedFrame, err)}
	}
	return v, nil
}

func query[T any](ctx context.Context, c *Client, command string) (T, error) {
	raw, err := c.Execute(ctx, command, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](raw, command)
}

// QueryStatus returns the run state.
func (c *Client) QueryStatus(ctx context.Context) (StatusInfo, error) {
	return query[StatusInfo](ctx, c, "query-status")
}

// QueryBalloon returns the current balloon size. It fails with a
// CommandError when the guest has no balloon device.
func (c *Client) QueryBalloon(ctx context.Context) (BalloonInfo, error) {
	return query[BalloonInfo](ctx, c, "query-balloon")
}

// QueryBlockStats returns per-device I/O counters.
func (c *Client) QueryBlockStats(ctx context.Context) ([]BlockStats, error) {
	return query[[]BlockStats](ctx, c, "query-blockstats")
}

// QueryCPUsFast lists vCPUs without interrupting the guest.
func (c *Client) QueryCPUsFast(ctx context.Context) ([]CPUInfo, error) {
	return query[[]CPUInfo](ctx, c, "query-cpus-fast")
}

type keyValue struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// SendKey presses keys together, as in {"ctrl", "alt", "delete"}. Key names
// are QEMU qcodes and must already be validated.
func (c *Client) SendKey(ctx context.Context, keys []string, hold time.Duration) error {
	if len(keys) == 0 {
		return errors.New("no keys to send")
	}
	args := struct {
		Keys     []keyValue `json:"keys"`
		HoldTime int64      `json:"hold-time,omitempty"`
	}{HoldTime: hold.Milliseconds()}
	for _, k := range keys {
		args.Keys = append(args.Keys, keyValue{Type: "qcode", Data: k})
	}
	_, err := c.Execute(ctx, "send-key", args)
	return err
}

// SystemPowerdown requests an ACPI shutdown.
func (c *Client) SystemPowerdown(ctx context.Context) error {
	_, err := c.Execute(ctx, "system_powerdown", nil)
	return err
}

// Sample collects one live reading. query-status is required; the other
// queries are skipped when the hypervisor rejects them, as happens for a
// guest without a balloon device.
func (c *Client) Sample(ctx context.Context) (v1alpha1.StatsSample, error) {
	s := v1alpha1.StatsSample{Time: v1alpha1.NewTime(time.Now())}

	st, err := c.QueryStatus(ctx)
	if err != nil {
		return s, err
	}
	s.RunState = st.Status

	if b, err := c.QueryBalloon(ctx); err == nil {
		s.Metrics = append(s.Metrics, v1alpha1.IntMetric("balloon_actual", b.Actual, "bytes"))
	} else if !isCommandError(err) {
		return s, err
	}

	if cpus, err := c.QueryCPUsFast(ctx); err == nil {
		s.Metrics = append(s.Metrics, v1alpha1.IntMetric("vcpu_count", int64(len(cpus)), "count"))
	} else if !isCommandError(err) {
		return s, err
	}

	if blocks, err := c.QueryBlockStats(ctx); err == nil {
		for _, b := range blocks {
			dev := b.Device
			if dev == "" {
				dev = b.QDev
			}
			if dev == "" {
				continue
			}
			s.Metrics = append(s.Metrics,
				v1alpha1.IntMetric("block_" + dev + "_rd_bytes", b.Stats.RdBytes, "bytes"),
				v1alpha1.IntMetric("block_" + dev + "_wr_bytes", b.Stats.WrBytes, "bytes"),
				v1alpha1.IntMetric("block_" + dev + "_rd_operations", b.Stats.RdOperations, "count"),
				v1alpha1.IntMetric("block_" + dev + "_wr_operations", b.Stats.WrOperations, "count"),
				v1alpha1.IntMetric("block_" + dev + "_rd_total_time", b.Stats.RdTotalTimeNs, "nanoseconds"),
				v1alpha1.IntMetric("block_" + dev + "_wr_total_time", b.Stats.WrTotalTimeNs, "nanoseconds"),
			)
		}
	} else if !isCommandError(err) {
		return s, err
	}

	return s, nil
}

func isCommandError(err error) bool {
	var cmdErr *CommandError
	return errors.As(err, &cmdErr)
}

// DrainEvents returns every event currently buffered without blocking.
func (c *Client) DrainEvents() []v1alpha1.MonitorEvent {
	var out []v1alpha1.MonitorEvent
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return out
			}
			me := v1alpha1.MonitorEvent{Name: ev.Name, Time: v1alpha1.NewTime(ev.Timestamp)}
			if len(ev.Data) > 0 {
				_ = json.Unmarshal(ev.Data, &me.Data)
			}
			out = append(out, me)
		default:
			return out
		}
	}
}
