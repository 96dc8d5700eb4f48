package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// StaticUsers is an in-memory user table of bcrypt hashes, used when no
// database is configured.
type StaticUsers struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewStaticUsers takes username -> bcrypt hash. Names are normalized.
func NewStaticUsers(hashes map[string]string) (*StaticUsers, error) {
	users := &StaticUsers{hashes: make(map[string]string, len(hashes))}
	for name, hash := range hashes {
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %q: password is not a bcrypt hash: %w", name, err)
		}
		users.hashes[NormalizePrincipal(name)] = strings.TrimSpace(hash)
	}
	return users, nil
}

func (u *StaticUsers) CheckPassword(_ context.Context, username, password string) (bool, error) {
	u.mu.RLock()
	hash, ok := u.hashes[username]
	u.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

func (u *StaticUsers) UpsertUser(_ context.Context, username, plainPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	u.mu.Lock()
	u.hashes[NormalizePrincipal(username)] = string(hash)
	u.mu.Unlock()
	return nil
}

func (u *StaticUsers) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.hashes)
}

var (
	_ IdentityChecker = (*StaticUsers)(nil)
	_ UserUpserter    = (*StaticUsers)(nil)
	_ UserUpserter    = (*Repository)(nil)
)
