package monitor

import (
	"sync"

	"github.com/HerbHall/printwatch/pkg/models"
)

// Store holds the latest known status per device. Reads return copies;
// the Monitor is its only writer.
type Store struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]models.DeviceStatus
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]models.DeviceStatus)}
}

// Get returns the status for deviceID, if any.
func (s *Store) Get(deviceID string) (models.DeviceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.entries[deviceID]
	if !ok {
		return models.DeviceStatus{}, false
	}
	return st.Clone(), true
}

// GetAll returns a snapshot of every status in insertion order.
func (s *Store) GetAll() []models.DeviceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DeviceStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id].Clone())
	}
	return out
}

// Set replaces the status for deviceID. A replaced entry keeps its position.
func (s *Store) Set(deviceID string, status models.DeviceStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[deviceID]; !ok {
		s.order = append(s.order, deviceID)
	}
	s.entries[deviceID] = status.Clone()
}

// Remove deletes the entry for deviceID. No-op if absent.
func (s *Store) Remove(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[deviceID]; !ok {
		return
	}
	delete(s.entries, deviceID)
	for i, id := range s.order {
		if id == deviceID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of stored devices.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
