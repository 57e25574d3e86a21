package store

import (
	"context"
	"sync"
)

// Memory keeps profiles, archived documents and counters in process. It is
// used when no database is configured.
type Memory struct {
	mu        sync.RWMutex
	profiles  map[string]Profile
	admins    map[string]bool
	documents []ArchivedDocument
	plays     map[string]int
	hardMode  map[string]int
}

func NewMemory(adminIDs ...string) *Memory {
	m := &Memory{
		profiles: map[string]Profile{},
		admins:   map[string]bool{},
		plays:    map[string]int{},
		hardMode: map[string]int{},
	}
	for _, id := range adminIDs {
		if id != "" {
			m.admins[id] = true
		}
	}
	return m
}

func (m *Memory) GetProfile(_ context.Context, userID string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

func (m *Memory) SetProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

func (m *Memory) IsAdmin(_ context.Context, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.admins[userID], nil
}

func (m *Memory) InsertDocument(_ context.Context, doc ArchivedDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, doc)
	return nil
}

func (m *Memory) IncrementPlays(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays[userID]++
	return nil
}

func (m *Memory) IncrementHardModeCompletions(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hardMode[userID]++
	return nil
}

func (m *Memory) Documents() []ArchivedDocument {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ArchivedDocument(nil), m.documents...)
}

func (m *Memory) Plays(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plays[userID]
}

func (m *Memory) HardModeCompletions(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hardMode[userID]
}
