// Package output implements the bounded-queue, single-worker dispatcher
// that fans each collected record out to every configured sink, plus the
// stdout/file/webhook/gcloud sink implementations and their record
// encodings (JSON, YAML, CSV).
package output

import (
	"log/slog"
	"time"

	"github.com/kuroha-net/hems-agent/internal/control"
	"github.com/kuroha-net/hems-agent/internal/meter"
)

const shutdownJoinDeadline = 2 * time.Second

// Dispatcher owns the record queue and its single worker goroutine. The
// poll loop is the only producer; the worker is the only consumer.
type Dispatcher struct {
	queue chan meter.Record
	sinks []Sink
	ctrl  *control.Control
	done  chan struct{}
}

// NewDispatcher starts the worker goroutine and returns immediately.
func NewDispatcher(queueSize int, sinks []Sink, ctrl *control.Control) *Dispatcher {
	d := &Dispatcher{
		queue: make(chan meter.Record, queueSize),
		sinks: sinks,
		ctrl:  ctrl,
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue submits a record for delivery. It never blocks: a full queue
// drops the record with a logged warning rather than stalling the poll
// loop.
func (d *Dispatcher) Enqueue(rec meter.Record) {
	select {
	case d.queue <- rec:
	default:
		slog.Warn("output: queue full, dropping record", "timestamp", rec.Timestamp)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case rec := <-d.queue:
			d.dispatch(rec)
		case <-ticker.C:
			if !d.ctrl.Running() {
				d.drain()
				return
			}
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case rec := <-d.queue:
			d.dispatch(rec)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(rec meter.Record) {
	for _, sink := range d.sinks {
		if err := sink.Emit(rec); err != nil {
			slog.Error("output: sink failed", "sink", sink.Name(), "err", err)
		}
	}
}

// Shutdown waits for the worker to drain and exit, up to a 2s deadline.
func (d *Dispatcher) Shutdown() {
	select {
	case <-d.done:
	case <-time.After(shutdownJoinDeadline):
		slog.Warn("output: worker did not stop within shutdown deadline")
	}
}
