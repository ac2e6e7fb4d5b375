package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Reaper expires sessions that go idle or lose their connection. Each
// session has at most one pending timer; arming a new one replaces it.
type Reaper struct {
	ttl   time.Duration
	grace time.Duration
	clock clock.Clock

	mu       sync.Mutex
	timers   map[string]*reaperTimer
	seq      uint64
	onExpire func(id string)
	stopped  bool
}

type reaperTimer struct {
	timer *clock.Timer
	seq   uint64
}

func NewReaper(ttl, grace time.Duration, clk clock.Clock) *Reaper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if grace <= 0 {
		grace = 2 * time.Minute
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Reaper{
		ttl:    ttl,
		grace:  grace,
		clock:  clk,
		timers: make(map[string]*reaperTimer),
	}
}

func (r *Reaper) OnExpire(callback func(id string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = callback
}

// Touch restarts the idle timer for id.
func (r *Reaper) Touch(id string) {
	r.arm(id, r.ttl)
}

// Disconnected replaces the idle timer with the shorter disconnect grace.
func (r *Reaper) Disconnected(id string) {
	r.arm(id, r.grace)
}

func (r *Reaper) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[id]; ok {
		t.timer.Stop()
		delete(r.timers, id)
	}
}

func (r *Reaper) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	for id, t := range r.timers {
		t.timer.Stop()
		delete(r.timers, id)
	}
}

func (r *Reaper) arm(id string, after time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	if t, ok := r.timers[id]; ok {
		t.timer.Stop()
	}
	r.seq++
	seq := r.seq
	r.timers[id] = &reaperTimer{
		seq:   seq,
		timer: r.clock.AfterFunc(after, func() { r.fire(id, seq) }),
	}
}

func (r *Reaper) fire(id string, seq uint64) {
	r.mu.Lock()
	t, ok := r.timers[id]
	if !ok || t.seq != seq {
		// Re-armed or forgotten after this timer was already queued.
		r.mu.Unlock()
		return
	}
	delete(r.timers, id)
	callback := r.onExpire
	r.mu.Unlock()

	if callback != nil {
		callback(id)
	}
}
