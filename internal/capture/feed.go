package capture

import "sync"

// Feed fans raw frames from one device source out to any number of
// subscribers. Slow subscribers miss frames instead of blocking the device.
type Feed struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	closed  bool
}

func NewFeed() *Feed {
	return &Feed{clients: make(map[chan []byte]struct{})}
}

func (f *Feed) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.clients[ch] = struct{}{}
	return ch
}

func (f *Feed) Unsubscribe(ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[ch]; !ok {
		return
	}
	delete(f.clients, ch)
	close(ch)
}

func (f *Feed) Publish(frame []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for ch := range f.clients {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Write publishes a copy of p so the feed can sit behind an io.Writer.
func (f *Feed) Write(p []byte) (int, error) {
	frame := make([]byte, len(p))
	copy(frame, p)
	f.Publish(frame)
	return len(p), nil
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.clients {
		close(ch)
	}
	f.clients = nil
}
