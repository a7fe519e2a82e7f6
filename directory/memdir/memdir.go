// Package memdir is an in-memory Directory used by tests and standalone
// development setups.
package memdir

import (
	"context"
	"crypto/subtle"
	"sync"

	"github.com/rjantos/go-session-gate/directory"
)

// Entry is one provisioned account.
type Entry struct {
	Password string
	Record   directory.User
}

// Memdir implements directory.Directory over a static account map.
type Memdir struct {
	mu       sync.RWMutex
	accounts map[string]Entry

	// fail, when set, makes every call return ErrUnavailable. Used by tests
	// to simulate a backend outage.
	fail bool
}

var _ directory.Directory = (*Memdir)(nil)

func New() *Memdir {
	return &Memdir{accounts: make(map[string]Entry)}
}

// Add provisions an account. The record is stored as given; callers that
// want the login echoed back should include it in the record.
func (m *Memdir) Add(login, password string, record directory.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[login] = Entry{Password: password, Record: record}
}

// SetUnavailable toggles the simulated outage.
func (m *Memdir) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = down
}

func (m *Memdir) Authenticate(_ context.Context, login, password string) (directory.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.fail {
		return nil, directory.ErrUnavailable
	}

	entry, ok := m.accounts[login]
	if !ok || subtle.ConstantTimeCompare([]byte(entry.Password), []byte(password)) != 1 {
		return nil, directory.ErrInvalidCredentials
	}

	record := make(directory.User, len(entry.Record))
	for k, v := range entry.Record {
		record[k] = v
	}
	return record, nil
}
