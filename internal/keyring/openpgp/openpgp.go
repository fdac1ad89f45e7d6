package openpgp

import (
	"bytes"
	"context"
	"crypto"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/OliverSchlueter/pgpmail/internal/keyring"
	pgp "github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// Keyring is an in-process keyring backed by armored key files.
type Keyring struct {
	entities pgp.EntityList
	signer   *pgp.Entity
	locked   bool
	trust    keyring.TrustPolicy
	hash     crypto.Hash
	now      func() time.Time
}

type Configuration struct {
	// PublicKeyring and SecretKeyring are paths to armored key files. Either
	// may be empty.
	PublicKeyring string
	SecretKeyring string
	// Entities are used in addition to the keys read from disk.
	Entities pgp.EntityList
	// SignerID selects the signing key by email, key id or fingerprint.
	SignerID string
	Trust    keyring.TrustPolicy
	// Hash defaults to SHA-512.
	Hash crypto.Hash
	Now  func() time.Time
}

func New(config Configuration) (*Keyring, error) {
	entities := append(pgp.EntityList{}, config.Entities...)
	for _, path := range []string{config.SecretKeyring, config.PublicKeyring} {
		if path == "" {
			continue
		}
		el, err := readKeyringFile(path)
		if err != nil {
			return nil, err
		}
		entities = append(entities, el...)
	}

	if config.Trust == "" {
		config.Trust = keyring.TrustAlways
	}
	if config.Hash == 0 {
		config.Hash = crypto.SHA512
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if _, ok := keyring.Micalg(config.Hash); !ok {
		return nil, fmt.Errorf("unsupported signature hash %v", config.Hash)
	}

	k := &Keyring{
		entities: entities,
		trust:    config.Trust,
		hash:     config.Hash,
		now:      config.Now,
	}
	k.signer, k.locked = selectSigner(entities, config.SignerID)

	if k.signer != nil {
		slog.Debug("Selected signing key", slog.String("key_id", keyID(k.signer)))
	}

	return k, nil
}

func readKeyringFile(path string) (pgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open keyring %s: %w", path, err)
	}
	defer f.Close()

	el, err := pgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("could not read keyring %s: %w", path, err)
	}
	return el, nil
}

// selectSigner returns the first entity holding an unlocked private key that
// matches id. The second result reports that only locked keys matched.
func selectSigner(entities pgp.EntityList, id string) (*pgp.Entity, bool) {
	locked := false
	for _, e := range entities {
		if e.PrivateKey == nil || !matches(e, id) {
			continue
		}
		if e.PrivateKey.Encrypted {
			locked = true
			continue
		}
		return e, false
	}
	return nil, locked
}

func matches(e *pgp.Entity, id string) bool {
	id = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(id), "0x"))
	if id == "" {
		return true
	}
	if strings.HasSuffix(hex.EncodeToString(e.PrimaryKey.Fingerprint), id) {
		return true
	}
	for _, ident := range e.Identities {
		if strings.EqualFold(ident.UserId.Email, id) {
			return true
		}
	}
	return false
}

func keyID(e *pgp.Entity) string {
	return strings.ToUpper(fmt.Sprintf("%016x", e.PrimaryKey.KeyId))
}

func (k *Keyring) config() *packet.Config {
	return &packet.Config{
		DefaultHash: k.hash,
		Time:        k.now,
	}
}

func (k *Keyring) Sign(ctx context.Context, payload []byte) (keyring.Signature, error) {
	if err := ctx.Err(); err != nil {
		return keyring.Signature{}, err
	}
	if k.signer == nil {
		if k.locked {
			return keyring.Signature{}, fmt.Errorf("%w: secret key is passphrase protected", keyring.ErrSigningUnavailable)
		}
		return keyring.Signature{}, fmt.Errorf("%w: no secret key", keyring.ErrSigningUnavailable)
	}

	var buf bytes.Buffer
	if err := pgp.ArmoredDetachSign(&buf, k.signer, bytes.NewReader(payload), k.config()); err != nil {
		return keyring.Signature{}, fmt.Errorf("%w: %w", keyring.ErrSigningUnavailable, err)
	}

	micalg, _ := keyring.Micalg(k.hash)
	return keyring.Signature{Armored: buf.Bytes(), Micalg: micalg}, nil
}

func (k *Keyring) Encrypt(ctx context.Context, payload []byte, recipient string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entity, ident := k.lookup(recipient)
	if entity == nil {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "no public key"}
	}
	if entity.Revoked(k.now()) {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "key revoked"}
	}
	if k.trust == keyring.TrustVerify && !k.certified(entity, ident) {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "key not trusted"}
	}

	var buf bytes.Buffer
	armored, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "armor", Err: err}
	}

	plaintext, err := pgp.Encrypt(armored, []*pgp.Entity{entity}, nil, nil, k.config())
	if err != nil {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "unusable key", Err: err}
	}
	if _, err := plaintext.Write(payload); err != nil {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "write", Err: err}
	}
	if err := plaintext.Close(); err != nil {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "write", Err: err}
	}
	if err := armored.Close(); err != nil {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "armor", Err: err}
	}
	buf.WriteString("\n")

	return buf.Bytes(), nil
}

func (k *Keyring) lookup(recipient string) (*pgp.Entity, *pgp.Identity) {
	addr := recipient
	if a, err := mail.ParseAddress(recipient); err == nil {
		addr = a.Address
	}

	for _, e := range k.entities {
		for _, ident := range e.Identities {
			if strings.EqualFold(ident.UserId.Email, addr) {
				return e, ident
			}
		}
	}
	return nil, nil
}

// certified reports whether the signing key vouches for ident on entity.
func (k *Keyring) certified(entity *pgp.Entity, ident *pgp.Identity) bool {
	if k.signer == nil {
		return false
	}
	if entity.PrimaryKey.KeyId == k.signer.PrimaryKey.KeyId {
		return true
	}

	for _, sig := range ident.Signatures {
		if sig.IssuerKeyId == nil || *sig.IssuerKeyId != k.signer.PrimaryKey.KeyId {
			continue
		}
		if err := k.signer.PrimaryKey.VerifyUserIdSignature(ident.Name, entity.PrimaryKey, sig); err == nil {
			return true
		}
	}
	return false
}

// Verify checks an armored detached signature over payload and returns the
// signing entity.
func (k *Keyring) Verify(payload, armoredSignature []byte) (*pgp.Entity, error) {
	return pgp.CheckArmoredDetachedSignature(k.entities, bytes.NewReader(payload), bytes.NewReader(armoredSignature), k.config())
}

// Decrypt reads an armored message with the secret keys in the keyring.
func (k *Keyring) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := armor.Decode(bytes.NewReader(ciphertext))
	if err != nil {
		return nil, fmt.Errorf("could not decode armor: %w", err)
	}

	md, err := pgp.ReadMessage(block.Body, k.entities, nil, k.config())
	if err != nil {
		return nil, fmt.Errorf("could not read message: %w", err)
	}
	return io.ReadAll(md.UnverifiedBody)
}

// Entities exposes the loaded keys.
func (k *Keyring) Entities() pgp.EntityList {
	return k.entities
}
