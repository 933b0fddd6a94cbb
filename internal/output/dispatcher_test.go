package output

import (
	"sync"
	"testing"
	"time"

	"github.com/kuroha-net/hems-agent/internal/control"
	"github.com/kuroha-net/hems-agent/internal/meter"
)

type recordingSink struct {
	mu       sync.Mutex
	received []meter.Record
	failNext bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Emit(rec meter.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errFake
	}
	s.received = append(s.received, rec)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

var errFake = &fakeErr{"sink failed"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func TestDispatcherDeliversInOrder(t *testing.T) {
	ctrl := control.New()
	sink := &recordingSink{}
	d := NewDispatcher(16, []Sink{sink}, ctrl)

	for i := 0; i < 5; i++ {
		d.Enqueue(meter.Record{Timestamp: time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC)})
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 5 {
		t.Fatalf("sink received %d records, want 5", sink.count())
	}

	ctrl.Stop()
	d.Shutdown()
}

func TestDispatcherSinkFailureDoesNotHaltWorker(t *testing.T) {
	ctrl := control.New()
	sink := &recordingSink{failNext: true}
	d := NewDispatcher(16, []Sink{sink}, ctrl)

	d.Enqueue(meter.Record{Timestamp: time.Now().UTC()})
	d.Enqueue(meter.Record{Timestamp: time.Now().UTC()})

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("sink received %d records, want 1 (first failed, second should still deliver)", sink.count())
	}

	ctrl.Stop()
	d.Shutdown()
}

func TestDispatcherShutdownDrainsQueue(t *testing.T) {
	ctrl := control.New()
	sink := &recordingSink{}
	d := NewDispatcher(16, []Sink{sink}, ctrl)

	d.Enqueue(meter.Record{Timestamp: time.Now().UTC()})
	ctrl.Stop()
	d.Shutdown()

	if sink.count() != 1 {
		t.Fatalf("sink received %d records after shutdown, want 1", sink.count())
	}
}
