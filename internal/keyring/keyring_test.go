package keyring_test

import (
	"context"
	"crypto"
	"sync"
	"testing"

	"github.com/OliverSchlueter/pgpmail/internal/keyring"
	"github.com/OliverSchlueter/pgpmail/internal/keyring/fake"
	"github.com/stretchr/testify/require"
)

func TestParseTrustPolicy(t *testing.T) {
	req := require.New(t)

	p, err := keyring.ParseTrustPolicy("")
	req.NoError(err)
	req.Equal(keyring.TrustAlways, p)

	p, err = keyring.ParseTrustPolicy("Verify")
	req.NoError(err)
	req.Equal(keyring.TrustVerify, p)

	_, err = keyring.ParseTrustPolicy("marginal")
	req.ErrorIs(err, keyring.ErrUnknownTrustPolicy)
}

func TestMicalg(t *testing.T) {
	req := require.New(t)

	m, ok := keyring.Micalg(crypto.SHA512)
	req.True(ok)
	req.Equal("pgp-sha512", m)

	m, ok = keyring.MicalgForID(8)
	req.True(ok)
	req.Equal("pgp-sha256", m)

	_, ok = keyring.MicalgForID(42)
	req.False(ok)
}

func TestSerialized(t *testing.T) {
	req := require.New(t)
	inner := fake.NewKeyring()
	k := keyring.Serialized(inner)
	req.Same(k, keyring.Serialized(k))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = k.Sign(context.Background(), []byte("payload"))
			_, _ = k.Encrypt(context.Background(), []byte("payload"), "a@b")
		}()
	}
	wg.Wait()

	req.Len(inner.Signed, 16)
	req.Len(inner.Encrypted, 16)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := k.Sign(ctx, []byte("x"))
	req.ErrorIs(err, context.Canceled)
}
