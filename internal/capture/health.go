package capture

import (
	"context"

	"go.uber.org/zap"
)

// HealthAction is the single recovery step a health check took.
type HealthAction string

const (
	HealthNone     HealthAction = "none"
	HealthSkipped  HealthAction = "skipped"
	HealthReattach HealthAction = "reattach"
	HealthBackup   HealthAction = "backup"
	HealthAcquire  HealthAction = "acquire"
)

// StartMonitor runs CheckHealth on every health interval until ctx is done
// or the manager is closed.
func (m *Manager) StartMonitor(ctx context.Context) {
	m.mu.Lock()
	if m.closed || m.monitorStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.monitorStop = stop
	m.mu.Unlock()

	ticker := m.clock.Ticker(m.opts.HealthInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.CheckHealth(ctx)
			}
		}
	}()
}

// CheckHealth verifies that a live, enabled video track is attached when
// video was requested. It never stops a track itself; replacements go
// through the handle.
func (m *Manager) CheckHealth(ctx context.Context) HealthAction {
	if m.acquiring.Load() || m.isClosed() {
		return HealthSkipped
	}

	m.mu.Lock()
	wantVideo := m.videoRequested && !m.videoDisabled
	m.mu.Unlock()

	cur := m.handle.Current()
	if cur == nil {
		return HealthNone
	}
	if m.sink.Source() != cur {
		m.log.Info("health: reattaching stream to sink")
		m.sink.Attach(cur)
		return HealthReattach
	}
	if !wantVideo || hasEnabledLive(cur, KindVideo) {
		return HealthNone
	}

	if backup := m.handle.TakeBackup(); backup != nil {
		if hasEnabledLive(backup, KindVideo) {
			m.log.Info("health: promoting backup stream", zap.String("stream", backup.ID()))
			m.mu.Lock()
			c := m.constraints
			m.mu.Unlock()
			m.install(backup, c)
			return HealthBackup
		}
		_ = backup.Stop()
	}

	m.log.Warn("health: no usable video, acquiring new stream")
	if _, err := m.Acquire(ctx); err != nil {
		m.log.Error("health: acquire failed", zap.Error(err))
	}
	return HealthAcquire
}

func hasEnabledLive(s *Stream, kind Kind) bool {
	for _, t := range s.TracksOf(kind) {
		if t.Live() && t.Enabled() {
			return true
		}
	}
	return false
}
