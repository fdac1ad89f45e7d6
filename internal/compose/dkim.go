package compose

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"
)

type DKIMConfiguration struct {
	Domain string
	// Selector defaults to "mail".
	Selector string
	Signer   crypto.Signer
}

// LoadDKIMPrivateKey reads a PEM encoded PKCS#1 or PKCS#8 private key.
func LoadDKIMPrivateKey(path string) (crypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM data in %s", path)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("could not parse DKIM key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("DKIM key of type %T cannot sign", key)
	}
	return signer, nil
}

func (c *Composer) applyDKIM(raw []byte) ([]byte, error) {
	if c.dkim == nil || c.dkim.Signer == nil {
		return raw, nil
	}

	selector := c.dkim.Selector
	if selector == "" {
		selector = "mail"
	}

	opts := &dkim.SignOptions{
		Domain:   c.dkim.Domain,
		Selector: selector,
		Signer:   c.dkim.Signer,
		HeaderKeys: []string{
			"from",
			"to",
			"subject",
			"date",
			"message-id",
			"mime-version",
			"content-type",
		},
	}

	var signed bytes.Buffer
	if err := dkim.Sign(&signed, bytes.NewReader(raw), opts); err != nil {
		return nil, fmt.Errorf("could not DKIM sign message: %w", err)
	}
	return signed.Bytes(), nil
}
