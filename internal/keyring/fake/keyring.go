package fake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/OliverSchlueter/pgpmail/internal/keyring"
)

const (
	signatureHeader = "-----BEGIN PGP SIGNATURE-----"
	signatureFooter = "-----END PGP SIGNATURE-----"
	messageHeader   = "-----BEGIN PGP MESSAGE-----"
	messageFooter   = "-----END PGP MESSAGE-----"
)

// Keyring is a deterministic stand-in for a real OpenPGP keyring. Signatures
// are armored SHA-512 digests and ciphertexts are the payload XORed with a
// keystream derived from the recipient.
type Keyring struct {
	// MissingKeys lists recipients without a public key.
	MissingKeys map[string]bool
	// SigningError is returned by Sign when set.
	SigningError error

	Signed    [][]byte
	Encrypted []string
	mu        sync.Mutex
}

func NewKeyring(missing ...string) *Keyring {
	k := &Keyring{
		MissingKeys: make(map[string]bool),
		mu:          sync.Mutex{},
	}
	for _, m := range missing {
		k.MissingKeys[strings.ToLower(m)] = true
	}
	return k
}

func (k *Keyring) Sign(ctx context.Context, payload []byte) (keyring.Signature, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return keyring.Signature{}, err
	}
	if k.SigningError != nil {
		return keyring.Signature{}, fmt.Errorf("%w: %w", keyring.ErrSigningUnavailable, k.SigningError)
	}

	k.Signed = append(k.Signed, bytes.Clone(payload))

	sum := sha512.Sum512(payload)
	return keyring.Signature{
		Armored: armor(signatureHeader, signatureFooter, sum[:]),
		Micalg:  "pgp-sha512",
	}, nil
}

func (k *Keyring) Encrypt(ctx context.Context, payload []byte, recipient string) ([]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k.MissingKeys[strings.ToLower(recipient)] {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "no public key"}
	}

	k.Encrypted = append(k.Encrypted, recipient)
	return armor(messageHeader, messageFooter, xor(payload, recipient)), nil
}

// Verify reports whether armored is the signature Sign produces for payload.
func (k *Keyring) Verify(payload, armored []byte) bool {
	sum := sha512.Sum512(payload)
	return bytes.Equal(normalize(armored), normalize(armor(signatureHeader, signatureFooter, sum[:])))
}

// Decrypt reverses Encrypt for recipient.
func (k *Keyring) Decrypt(armored []byte, recipient string) ([]byte, error) {
	data, err := dearmor(armored, messageHeader, messageFooter)
	if err != nil {
		return nil, err
	}
	return xor(data, recipient), nil
}

func xor(data []byte, recipient string) []byte {
	out := make([]byte, len(data))
	var block [sha256.Size]byte
	for i := range data {
		if i%sha256.Size == 0 {
			block = sha256.Sum256(fmt.Appendf(nil, "%s:%d", strings.ToLower(recipient), i/sha256.Size))
		}
		out[i] = data[i] ^ block[i%sha256.Size]
	}
	return out
}

func armor(header, footer string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(header + "\n\n")
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 64 {
		buf.WriteString(enc[:64] + "\n")
		enc = enc[64:]
	}
	if enc != "" {
		buf.WriteString(enc + "\n")
	}
	buf.WriteString(footer + "\n")
	return buf.Bytes()
}

func dearmor(armored []byte, header, footer string) ([]byte, error) {
	s := string(normalize(armored))
	start := strings.Index(s, header)
	end := strings.Index(s, footer)
	if start < 0 || end < start {
		return nil, fmt.Errorf("missing %s block", header)
	}
	body := strings.Join(strings.Fields(s[start+len(header):end]), "")
	return base64.StdEncoding.DecodeString(body)
}

func normalize(b []byte) []byte {
	return bytes.TrimSpace(bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n")))
}
