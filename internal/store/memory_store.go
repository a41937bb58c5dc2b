package store

import (
	"context"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/config"
	"github.com/life-stream-dev/life-stream-go-broker-client/internal/logger"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]config.Connection
}

// NewMemoryStore seeds a store with profiles, usually the environments of the config file.
func NewMemoryStore(profiles map[string]config.Connection) *MemoryStore {
	ms := &MemoryStore{profiles: make(map[string]config.Connection, len(profiles))}
	for name, profile := range profiles {
		profile.Name = name
		ms.profiles[name] = profile
	}
	return ms
}

func (ms *MemoryStore) Get(_ context.Context, name string) (config.Connection, error) {
	if name == "" {
		return config.Connection{}, ErrNameEmpty
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	profile, ok := ms.profiles[name]
	if !ok {
		logger.DebugF("Profile does not exist in memory: %s", name)
		return config.Connection{}, ErrProfileNotFound
	}
	return profile, nil
}

func (ms *MemoryStore) Save(_ context.Context, profile config.Connection) error {
	if profile.Name == "" {
		return ErrNameEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.profiles[profile.Name] = profile
	return nil
}

func (ms *MemoryStore) Delete(_ context.Context, name string) error {
	if name == "" {
		return ErrNameEmpty
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.profiles, name)
	return nil
}

func (ms *MemoryStore) List(_ context.Context) ([]config.Connection, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	result := make([]config.Connection, 0, len(ms.profiles))
	for _, profile := range ms.profiles {
		result = append(result, profile)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
