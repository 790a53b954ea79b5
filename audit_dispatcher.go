package authcore

import (
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples the auth path from sink latency. Events go
// through a bounded channel; when DropIfFull is set a full buffer drops
// the event and bumps a counter instead of blocking login traffic.
type auditDispatcher struct {
	sink    AuditSink
	ch      chan AuditEvent
	dropped atomic.Uint64

	dropIfFull bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newAuditDispatcher(sink AuditSink, cfg AuditConfig) *auditDispatcher {
	d := &auditDispatcher{
		sink:       sink,
		ch:         make(chan AuditEvent, cfg.BufferSize),
		dropIfFull: cfg.DropIfFull,
		done:       make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.ch:
			d.sink.Write(ev)
		case <-d.done:
			// Drain whatever made it into the buffer before close.
			for {
				select {
				case ev := <-d.ch:
					d.sink.Write(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *auditDispatcher) emit(ev AuditEvent) {
	if d == nil {
		return
	}
	if d.dropIfFull {
		select {
		case d.ch <- ev:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.ch <- ev:
	case <-d.done:
	}
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

func (d *auditDispatcher) close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
