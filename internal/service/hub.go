package service

import (
	"sync"

	"hui-manager/internal/model"
)

// Hub fans new notifications out to live subscribers (SSE streams), keyed
// by user. Slow subscribers miss events rather than block publishers.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan model.Notification]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan model.Notification]struct{})}
}

func (h *Hub) Subscribe(userID string) (<-chan model.Notification, func()) {
	ch := make(chan model.Notification, 16)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan model.Notification]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], ch)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(n model.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[n.UserID] {
		select {
		case ch <- n:
		default:
		}
	}
}

func (h *Hub) Subscribers(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}
