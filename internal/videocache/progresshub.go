package videocache

import "sync"

// progressEvent is broadcast to every subscriber of GET /api/ws/progress
// whenever an HLS task reports progress (§4.M).
type progressEvent struct {
	URL       string `json:"url"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// progressHub fans out progressEvents to any number of websocket
// subscribers. A slow or gone subscriber never blocks the others: its
// channel is buffered and dropped events are simply lost for it.
type progressHub struct {
	mu   sync.Mutex
	subs map[chan progressEvent]struct{}
}

func newProgressHub() *progressHub {
	return &progressHub{subs: make(map[chan progressEvent]struct{})}
}

func (h *progressHub) subscribe() chan progressEvent {
	ch := make(chan progressEvent, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *progressHub) unsubscribe(ch chan progressEvent) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *progressHub) broadcast(ev progressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
