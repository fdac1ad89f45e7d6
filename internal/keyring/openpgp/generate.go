package openpgp

import (
	"bytes"
	"fmt"
	"io"

	pgp "github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// NewEntity generates an unprotected Ed25519/Curve25519 key for email.
func NewEntity(name, email string) (*pgp.Entity, error) {
	e, err := pgp.NewEntity(name, "", email, &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		return nil, fmt.Errorf("could not generate key for %s: %w", email, err)
	}
	return e, nil
}

// Certify adds a certification by signer to every identity of e.
func Certify(e, signer *pgp.Entity) error {
	for name := range e.Identities {
		if err := e.SignIdentity(name, signer, &packet.Config{}); err != nil {
			return fmt.Errorf("could not certify %q: %w", name, err)
		}
	}
	return nil
}

// WritePublic writes the armored public keys of entities to w.
func WritePublic(w io.Writer, entities ...*pgp.Entity) error {
	aw, err := armor.Encode(w, pgp.PublicKeyType, nil)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if err := e.Serialize(aw); err != nil {
			return err
		}
	}
	return aw.Close()
}

// WriteSecret writes the armored secret keys of entities to w.
func WriteSecret(w io.Writer, entities ...*pgp.Entity) error {
	aw, err := armor.Encode(w, pgp.PrivateKeyType, nil)
	if err != nil {
		return err
	}
	for _, e := range entities {
		if err := e.SerializePrivate(aw, nil); err != nil {
			return err
		}
	}
	return aw.Close()
}

// ArmorPublic returns the armored public keys of entities.
func ArmorPublic(entities ...*pgp.Entity) ([]byte, error) {
	var buf bytes.Buffer
	if err := WritePublic(&buf, entities...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
