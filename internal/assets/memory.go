package assets

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/countersignhq/countersign/model"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu          sync.RWMutex
	initials    map[string]string // user id -> blob id
	attachments map[string]string // submitter id + blob id -> attachment uuid
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		initials:    make(map[string]string),
		attachments: make(map[string]string),
	}
}

// PutInitials registers an initials blob for a user.
func (m *MemoryStore) PutInitials(userID, blobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initials[userID] = blobID
}

// FindInitials implements Store.
func (m *MemoryStore) FindInitials(_ context.Context, user *model.User) (string, error) {
	if user == nil {
		return "", nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initials[user.ID], nil
}

// AttachToSubmitter implements Store.
func (m *MemoryStore) AttachToSubmitter(_ context.Context, submitterID, blobID string) (string, error) {
	key := submitterID + "\x00" + blobID

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.attachments[key]; ok {
		return existing, nil
	}
	id := uuid.NewString()
	m.attachments[key] = id
	return id, nil
}
