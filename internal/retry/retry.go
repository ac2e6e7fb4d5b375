// Package retry drives recovery work through a bounded attempt counter and a
// single timer, so callers never chain their own delayed callbacks.
package retry

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type State int

const (
	Idle State = iota
	Waiting
	Running
	Exhausted
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Exhausted:
		return "exhausted"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Policy bounds how many times an operation is attempted and how long to
// wait before each attempt. The last backoff entry repeats.
type Policy struct {
	MaxAttempts int
	Backoff     []time.Duration

	// HoldAttempts keeps the attempt count after a successful run. The
	// caller reports real recovery through Machine.Healthy.
	HoldAttempts bool
}

func Fixed(delay time.Duration, attempts int) Policy {
	return Policy{MaxAttempts: attempts, Backoff: []time.Duration{delay}}
}

// Exponential doubles the delay after every attempt.
func Exponential(base time.Duration, attempts int) Policy {
	backoff := make([]time.Duration, 0, attempts)
	d := base
	for i := 0; i < attempts; i++ {
		backoff = append(backoff, d)
		d *= 2
	}
	return Policy{MaxAttempts: attempts, Backoff: backoff}
}

func (p Policy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt >= len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	if attempt < 0 {
		attempt = 0
	}
	return p.Backoff[attempt]
}

type Machine struct {
	policy Policy
	clock  clock.Clock

	mu          sync.Mutex
	state       State
	attempts    int
	timer       *clock.Timer
	op          func() error
	lastErr     error
	onExhausted func(error)
}

func New(policy Policy, clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.New()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Machine{policy: policy, clock: clk}
}

// OnExhausted registers a callback invoked once the last attempt fails.
func (m *Machine) OnExhausted(fn func(lastErr error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExhausted = fn
}

// Schedule arms op for the next attempt. It reports false when a run is
// already pending, or when the machine is exhausted or stopped.
func (m *Machine) Schedule(op func() error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Waiting, Running, Exhausted, Stopped:
		return false
	}
	if m.attempts >= m.policy.MaxAttempts {
		m.state = Exhausted
		return false
	}

	m.op = op
	m.armLocked()
	return true
}

func (m *Machine) armLocked() {
	m.state = Waiting
	m.timer = m.clock.AfterFunc(m.policy.Delay(m.attempts), m.fire)
}

func (m *Machine) fire() {
	m.mu.Lock()
	if m.state != Waiting {
		m.mu.Unlock()
		return
	}
	m.state = Running
	m.timer = nil
	m.attempts++
	op := m.op
	m.mu.Unlock()

	err := op()

	m.mu.Lock()
	if m.state != Running {
		// Stopped or reset while the op ran.
		m.mu.Unlock()
		return
	}
	if err == nil {
		m.state = Idle
		m.lastErr = nil
		if !m.policy.HoldAttempts {
			m.attempts = 0
		}
		m.mu.Unlock()
		return
	}

	m.lastErr = err
	if m.attempts >= m.policy.MaxAttempts {
		m.state = Exhausted
		cb := m.onExhausted
		m.mu.Unlock()
		if cb != nil {
			cb(err)
		}
		return
	}

	m.armLocked()
	m.mu.Unlock()
}

// Healthy clears the attempt count unless a run is pending.
func (m *Machine) Healthy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Idle {
		m.attempts = 0
	}
}

// Reset cancels any pending attempt and re-enables scheduling, including
// after exhaustion or Stop.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = Idle
	m.attempts = 0
	m.lastErr = nil
}

// Stop cancels any pending attempt and refuses new ones until Reset.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.state = Stopped
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

func (m *Machine) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}
