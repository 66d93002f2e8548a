package dispatch

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"livefeed/src/metrics"
	"livefeed/src/model"
)

// Listener receives accepted ticks. It runs on the instrument's lane, never
// on the ingestion goroutine.
type Listener func(model.Tick)

type lane struct {
	ch chan model.Tick
}

// Dispatcher fans ticks out to listeners. Each instrument gets its own
// bounded lane so ordering holds per instrument; when a lane is full the
// oldest pending tick is discarded in favour of the newest.
type Dispatcher struct {
	log       *logrus.Entry
	queueSize int

	mu        sync.Mutex
	listeners []Listener
	lanes     map[string]*lane
	closed    bool
	wg        sync.WaitGroup
}

func New(logger *logrus.Entry, queueSize int) *Dispatcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{
		log:       logger,
		queueSize: queueSize,
		lanes:     make(map[string]*lane),
	}
}

func (d *Dispatcher) Subscribe(l Listener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// Publish never blocks on listeners.
func (d *Dispatcher) Publish(t model.Tick) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	l, ok := d.lanes[t.Instrument]
	if !ok {
		l = &lane{ch: make(chan model.Tick, d.queueSize)}
		d.lanes[t.Instrument] = l
		d.wg.Add(1)
		go d.drain(t.Instrument, l)
	}
	// send under the lock so Close cannot close the channel mid-send
	for {
		select {
		case l.ch <- t:
			d.mu.Unlock()
			return
		default:
		}
		select {
		case dropped := <-l.ch:
			metrics.DispatchDrops.WithLabelValues(t.Instrument).Inc()
			d.log.WithFields(logrus.Fields{
				"instrument":  t.Instrument,
				"observed_at": dropped.ObservedAt,
				"source":      dropped.Source,
			}).Debug("lane full, dropped oldest tick")
		default:
		}
	}
}

// Close stops accepting ticks and waits for the lanes to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, l := range d.lanes {
		close(l.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) drain(name string, l *lane) {
	defer d.wg.Done()
	for t := range l.ch {
		d.mu.Lock()
		listeners := make([]Listener, len(d.listeners))
		copy(listeners, d.listeners)
		d.mu.Unlock()

		for _, fn := range listeners {
			d.call(name, fn, t)
		}
	}
}

func (d *Dispatcher) call(name string, fn Listener, t model.Tick) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithError(fmt.Errorf("%+v", r)).WithField("instrument", name).Error("listener panic")
		}
	}()
	fn(t)
}
