package store

import (
	"context"
	"sort"
	"sync"

	"displayfleet/models"
)

// MemoryStore is a DeviceStore that never touches disk.
type MemoryStore struct {
	mu      sync.Mutex
	devices map[string]*models.Device
	saves   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{devices: map[string]*models.Device{}}
}

func (s *MemoryStore) SaveDevice(_ context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d.Clone()
	s.saves++
	return nil
}

func (s *MemoryStore) LoadDevices(_ context.Context) ([]*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Saves reports how many writes the store has received.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Get returns the last persisted copy of a device.
func (s *MemoryStore) Get(id string) (*models.Device, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	return d.Clone(), ok
}
