package keyring

import (
	"context"
	"sync"
)

type serialized struct {
	mu    sync.Mutex
	inner Keyring
}

// Serialized wraps k so that at most one Sign or Encrypt runs at a time.
func Serialized(k Keyring) Keyring {
	if s, ok := k.(*serialized); ok {
		return s
	}
	return &serialized{inner: k}
}

func (s *serialized) Sign(ctx context.Context, payload []byte) (Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Signature{}, err
	}
	return s.inner.Sign(ctx, payload)
}

func (s *serialized) Encrypt(ctx context.Context, payload []byte, recipient string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inner.Encrypt(ctx, payload, recipient)
}
