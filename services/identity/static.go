package identity

import (
	"context"
	"sync"
)

// StaticResolver resolves from a fixed in-memory table.
type StaticResolver struct {
	mu       sync.RWMutex
	accounts map[string]string
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{accounts: make(map[string]string)}
}

// Register maps publicKey to accountID, replacing any previous mapping.
func (s *StaticResolver) Register(publicKey, accountID string) error {
	key, err := NormalizePublicKey(publicKey)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.accounts[key] = accountID
	s.mu.Unlock()

	return nil
}

func (s *StaticResolver) Resolve(_ context.Context, publicKey string) (string, error) {
	key, err := NormalizePublicKey(publicKey)
	if err != nil {
		return "", unknownKey(publicKey, err)
	}

	s.mu.RLock()
	accountID, ok := s.accounts[key]
	s.mu.RUnlock()

	if !ok {
		return "", unknownKey(publicKey)
	}

	return accountID, nil
}
