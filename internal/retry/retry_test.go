package retry

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPolicyDelay(t *testing.T) {
	p := Exponential(100*time.Millisecond, 3)
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond}
	for i, w := range want {
		if got := p.Delay(i); got != w {
			t.Fatalf("Delay(%d) = %v, want %v", i, got, w)
		}
	}
	if Fixed(time.Second, 2).Delay(5) != time.Second {
		t.Fatal("fixed policy should repeat its delay")
	}
}

func TestMachineRetriesUntilSuccess(t *testing.T) {
	mock := clock.NewMock()
	m := New(Fixed(time.Second, 3), mock)

	var calls atomic.Int32
	op := func() error {
		if calls.Add(1) < 2 {
			return errors.New("not yet")
		}
		return nil
	}

	if !m.Schedule(op) {
		t.Fatal("expected schedule to be accepted")
	}
	if m.Schedule(op) {
		t.Fatal("second schedule while waiting must be refused")
	}

	mock.Add(time.Second)
	waitFor(t, "first attempt", func() bool { return calls.Load() == 1 })
	waitFor(t, "re-arm", func() bool { return m.State() == Waiting })

	mock.Add(time.Second)
	waitFor(t, "second attempt", func() bool { return m.State() == Idle })

	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
	if m.Attempts() != 0 {
		t.Fatalf("expected attempts reset after success, got %d", m.Attempts())
	}
}

func TestMachineExhausts(t *testing.T) {
	mock := clock.NewMock()
	m := New(Fixed(10*time.Millisecond, 2), mock)

	exhausted := make(chan error, 1)
	m.OnExhausted(func(err error) { exhausted <- err })

	boom := errors.New("boom")
	m.Schedule(func() error { return boom })

	for i := 0; i < 2; i++ {
		attempt := i
		waitFor(t, "armed timer", func() bool { return m.State() == Waiting && m.Attempts() == attempt })
		mock.Add(10 * time.Millisecond)
	}

	select {
	case err := <-exhausted:
		if !errors.Is(err, boom) {
			t.Fatalf("unexpected exhaustion error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected exhaustion callback")
	}

	if m.State() != Exhausted {
		t.Fatalf("expected exhausted state, got %s", m.State())
	}
	if m.Schedule(func() error { return nil }) {
		t.Fatal("exhausted machine must refuse new work")
	}

	m.Reset()
	if !m.Schedule(func() error { return nil }) {
		t.Fatal("reset machine should accept work")
	}
}

func TestMachineHoldAttempts(t *testing.T) {
	mock := clock.NewMock()
	policy := Fixed(time.Millisecond, 3)
	policy.HoldAttempts = true
	m := New(policy, mock)

	m.Schedule(func() error { return nil })
	mock.Add(time.Millisecond)
	waitFor(t, "run", func() bool { return m.State() == Idle && m.Attempts() == 1 })

	m.Healthy()
	if m.Attempts() != 0 {
		t.Fatalf("expected Healthy to clear attempts, got %d", m.Attempts())
	}
}

func TestMachineStopCancelsPending(t *testing.T) {
	mock := clock.NewMock()
	m := New(Fixed(time.Second, 3), mock)

	var calls atomic.Int32
	m.Schedule(func() error { calls.Add(1); return nil })
	m.Stop()
	mock.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)

	if calls.Load() != 0 {
		t.Fatalf("stopped machine ran op %d times", calls.Load())
	}
	if m.Schedule(func() error { return nil }) {
		t.Fatal("stopped machine must refuse work")
	}
}
