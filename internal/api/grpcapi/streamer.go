package grpcapi

import (
	"sync"

	"github.com/KevinKickass/CrateManager/internal/manager"
)

// StatusStreamer fans controller state changes out to WatchStatus streams.
type StatusStreamer struct {
	mu          sync.RWMutex
	subscribers []chan manager.Status
}

var _ manager.Notifier = (*StatusStreamer)(nil)

func NewStatusStreamer() *StatusStreamer {
	return &StatusStreamer{}
}

func (s *StatusStreamer) Subscribe() <-chan manager.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan manager.Status, 16)
	s.subscribers = append(s.subscribers, ch)
	return ch
}

func (s *StatusStreamer) Unsubscribe(ch <-chan manager.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			break
		}
	}
}

// StateChanged delivers st to every subscriber with room in its buffer.
func (s *StatusStreamer) StateChanged(st manager.Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- st:
		default:
			// Skip if channel is full
		}
	}
}

func (s *StatusStreamer) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
