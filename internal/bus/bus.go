package bus

import (
	"sync"
	"sync/atomic"

	"github.com/saviobatista/adsb-capture/internal/types"
)

// Bus fans decoded data out to subscribers over typed channels. The
// publishing side never blocks: aircraft updates coalesce to the latest
// value per ICAO when a subscriber lags, metrics and status snapshots for
// a lagging subscriber are dropped and counted.
type Bus struct {
	mu       sync.Mutex
	aircraft []*aircraftSub
	metrics  []chan types.SignalMetrics
	status   []chan types.DeviceStatus
	closed   bool

	// DroppedMetrics and DroppedStatus count snapshots discarded for
	// slow subscribers.
	DroppedMetrics uint64
	DroppedStatus  uint64
}

// aircraftSub keeps at most one pending event per ICAO; the pump drains
// them to the subscriber channel in first-arrival order.
type aircraftSub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	order   []string
	pending map[string]types.TrackEvent
	ch      chan types.TrackEvent
	closed  bool

	coalesced uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// SubscribeAircraft registers a subscriber for track events. The returned
// channel is closed when the bus shuts down.
func (b *Bus) SubscribeAircraft(buffer int) <-chan types.TrackEvent {
	sub := &aircraftSub{
		pending: make(map[string]types.TrackEvent),
		ch:      make(chan types.TrackEvent, buffer),
	}
	sub.cond = sync.NewCond(&sub.mu)
	go sub.pump()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub.ch
	}
	b.aircraft = append(b.aircraft, sub)
	return sub.ch
}

// SubscribeMetrics registers a subscriber for signal metrics snapshots.
func (b *Bus) SubscribeMetrics(buffer int) <-chan types.SignalMetrics {
	ch := make(chan types.SignalMetrics, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.metrics = append(b.metrics, ch)
	return ch
}

// SubscribeStatus registers a subscriber for device status updates.
func (b *Bus) SubscribeStatus(buffer int) <-chan types.DeviceStatus {
	ch := make(chan types.DeviceStatus, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.status = append(b.status, ch)
	return ch
}

// PublishAircraft delivers a track event to all subscribers without
// blocking the caller.
func (b *Bus) PublishAircraft(ev types.TrackEvent) {
	b.mu.Lock()
	subs := b.aircraft
	b.mu.Unlock()
	for _, sub := range subs {
		sub.offer(ev)
	}
}

// PublishMetrics delivers a metrics snapshot; lagging subscribers miss it.
func (b *Bus) PublishMetrics(m types.SignalMetrics) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.metrics {
		select {
		case ch <- m:
		default:
			atomic.AddUint64(&b.DroppedMetrics, 1)
		}
	}
}

// PublishStatus delivers a device status update; lagging subscribers
// miss intermediate values.
func (b *Bus) PublishStatus(s types.DeviceStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.status {
		select {
		case ch <- s:
		default:
			atomic.AddUint64(&b.DroppedStatus, 1)
		}
	}
}

// Close shuts down all subscriber channels after pending coalesced
// events drain.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.aircraft {
		sub.close()
	}
	for _, ch := range b.metrics {
		close(ch)
	}
	for _, ch := range b.status {
		close(ch)
	}
	b.aircraft = nil
	b.metrics = nil
	b.status = nil
}

// offer stores the event for delivery, replacing any pending event for
// the same ICAO. Bounded work, no blocking.
func (s *aircraftSub) offer(ev types.TrackEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	key := ev.Update.ICAO
	if _, ok := s.pending[key]; ok {
		atomic.AddUint64(&s.coalesced, 1)
	} else {
		s.order = append(s.order, key)
	}
	s.pending[key] = ev
	s.cond.Signal()
}

// pump drains pending events to the subscriber channel. It runs on the
// bus side of the boundary and may block on the subscriber.
func (s *aircraftSub) pump() {
	for {
		s.mu.Lock()
		for len(s.order) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.order) == 0 && s.closed {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		key := s.order[0]
		s.order = s.order[1:]
		ev := s.pending[key]
		delete(s.pending, key)
		s.mu.Unlock()

		s.ch <- ev
	}
}

func (s *aircraftSub) close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
}
