package vm

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/jbweber/vmtools/api/v1alpha1"
	"github.com/jbweber/vmtools/internal/status"
	"github.com/jbweber/vmtools/internal/validate"
)

// Monitor checks that the VM is running and returns a sequence of live
// samples taken every interval. Events received between two samples are
// attached to the later one.
//
// Each iteration of the sequence opens its own monitor session and closes
// it when the loop ends, whether the consumer breaks, ctx is cancelled or
// the session fails. A failure is yielded once and ends the sequence.
func (o *Orchestrator) Monitor(ctx context.Context, vmName string, interval time.Duration) (iter.Seq2[v1alpha1.StatsSample, error], error) {
	n, err := validate.Identifier(vmName)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = o.settings.MonitorInterval
	}

	state, err := o.domState(ctx, n)
	if err != nil {
		return nil, err
	}
	if err := status.RequireRunning(vmName, "monitor", state); err != nil {
		return nil, err
	}
	socket := o.socketPath(n)
	if socket.IsZero() {
		return nil, fmt.Errorf("cannot monitor %s: monitor socket directory is not available", n)
	}

	return func(yield func(v1alpha1.StatsSample, error) bool) {
		mon, err := o.dialer.Dial(ctx, socket)
		if err != nil {
			yield(v1alpha1.StatsSample{}, err)
			return
		}
		defer func() { _ = mon.Close() }()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for ctx.Err() == nil {
			sample, err := mon.Sample(ctx)
			if err != nil {
				if ctx.Err() == nil {
					yield(v1alpha1.StatsSample{}, err)
				}
				return
			}
			sample.Events = mon.DrainEvents()
			o.metrics.RecordSample(vmName, sample)
			if !yield(sample, nil) {
				return
			}

			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
	}, nil
}
