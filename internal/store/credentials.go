package store

import (
	"context"
	"errors"
)

const credentialPrefix = "cred:"

// CredentialStore 安全凭据存储（auth token 等）
type CredentialStore struct {
	kv KV
}

func NewCredentialStore(kv KV) *CredentialStore { return &CredentialStore{kv: kv} }

// Get 键不存在时返回 ("", nil)
func (s *CredentialStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.kv.Get(ctx, credentialPrefix+key)
	if errors.Is(err, ErrMiss) {
		return "", nil
	}
	return v, err
}

func (s *CredentialStore) Set(ctx context.Context, key, value string) error {
	return s.kv.Set(ctx, credentialPrefix+key, value, 0)
}
