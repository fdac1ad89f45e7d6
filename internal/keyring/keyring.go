package keyring

import (
	"context"
	"crypto"
	"fmt"
	"strings"
)

// Signature is an ASCII-armored detached OpenPGP signature together with the
// RFC 3156 micalg naming the digest it was computed with.
type Signature struct {
	Armored []byte
	Micalg  string
}

// Signer produces detached signatures with the sender's default secret key.
type Signer interface {
	Sign(ctx context.Context, payload []byte) (Signature, error)
}

// Encryptor produces ASCII-armored ciphertext readable only by recipient.
type Encryptor interface {
	Encrypt(ctx context.Context, payload []byte, recipient string) ([]byte, error)
}

type Keyring interface {
	Signer
	Encryptor
}

type TrustPolicy string

const (
	// TrustAlways encrypts to any key found for the recipient, certified or not.
	TrustAlways TrustPolicy = "always"
	// TrustVerify only encrypts to keys the signing key has certified.
	TrustVerify TrustPolicy = "verify"
)

func ParseTrustPolicy(s string) (TrustPolicy, error) {
	switch TrustPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", TrustAlways:
		return TrustAlways, nil
	case TrustVerify:
		return TrustVerify, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTrustPolicy, s)
	}
}

var micalgs = map[crypto.Hash]string{
	crypto.MD5:       "pgp-md5",
	crypto.SHA1:      "pgp-sha1",
	crypto.RIPEMD160: "pgp-ripemd160",
	crypto.SHA224:    "pgp-sha224",
	crypto.SHA256:    "pgp-sha256",
	crypto.SHA384:    "pgp-sha384",
	crypto.SHA512:    "pgp-sha512",
}

// OpenPGP hash algorithm ids (RFC 4880 9.4).
var hashIDs = map[int]crypto.Hash{
	1:  crypto.MD5,
	2:  crypto.SHA1,
	3:  crypto.RIPEMD160,
	8:  crypto.SHA256,
	9:  crypto.SHA384,
	10: crypto.SHA512,
	11: crypto.SHA224,
}

// Micalg returns the micalg parameter value for h.
func Micalg(h crypto.Hash) (string, bool) {
	m, ok := micalgs[h]
	return m, ok
}

// MicalgForID maps an OpenPGP hash algorithm id to its micalg value.
func MicalgForID(id int) (string, bool) {
	h, ok := hashIDs[id]
	if !ok {
		return "", false
	}
	return Micalg(h)
}
