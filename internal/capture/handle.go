package capture

import "sync"

// Handle is the single owner of the current stream and its backup clone.
// Every replacement and teardown goes through it.
type Handle struct {
	mu      sync.Mutex
	current *Stream
	backup  *Stream
}

func (h *Handle) Current() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *Handle) Backup() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.backup
}

// Replace installs next as the current stream, stops the previous one and
// returns it.
func (h *Handle) Replace(next *Stream) *Stream {
	h.mu.Lock()
	prev := h.current
	h.current = next
	h.mu.Unlock()

	if prev != nil && prev != next {
		_ = prev.Stop()
	}
	return prev
}

// SetBackup installs a fresh backup clone and stops the previous one.
func (h *Handle) SetBackup(next *Stream) {
	h.mu.Lock()
	prev := h.backup
	h.backup = next
	h.mu.Unlock()

	if prev != nil && prev != next {
		_ = prev.Stop()
	}
}

// TakeBackup removes the backup from the handle without stopping it.
func (h *Handle) TakeBackup() *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := h.backup
	h.backup = nil
	return b
}

// Release stops and forgets both streams.
func (h *Handle) Release() {
	h.mu.Lock()
	current, backup := h.current, h.backup
	h.current, h.backup = nil, nil
	h.mu.Unlock()

	if current != nil {
		_ = current.Stop()
	}
	if backup != nil {
		_ = backup.Stop()
	}
}
