package identity

import (
	"context"
	"strings"
	"sync"

	"github.com/countersignhq/countersign/model"
)

// MemoryLookup is an in-memory Lookup for tests and single-process runs.
type MemoryLookup struct {
	mu    sync.RWMutex
	users map[string]model.User // account id + email -> user
}

// NewMemoryLookup creates an empty MemoryLookup.
func NewMemoryLookup() *MemoryLookup {
	return &MemoryLookup{users: make(map[string]model.User)}
}

// Put registers a user under its account and email.
func (m *MemoryLookup) Put(user model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[key(user.AccountID, user.Email)] = user
}

// ByEmail implements Lookup.
func (m *MemoryLookup) ByEmail(_ context.Context, accountID, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[key(accountID, email)]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func key(accountID, email string) string {
	return accountID + "\x00" + strings.ToLower(email)
}
