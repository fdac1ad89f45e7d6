package compose

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/OliverSchlueter/pgpmail/internal/keyring"
	"github.com/OliverSchlueter/pgpmail/internal/keyring/fake"
	"github.com/OliverSchlueter/pgpmail/internal/keyring/openpgp"
	pgp "github.com/ProtonMail/go-crypto/openpgp"
	"github.com/emersion/go-msgauth/dkim"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time {
	return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
}

func draft() Draft {
	return Draft{
		From:    "alice@example.com",
		Subject: "Café ☕",
		Body:    "hello\nworld\n",
	}
}

func readMessage(t *testing.T, raw []byte) *mail.Message {
	t.Helper()
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	return msg
}

func TestComposeSigned(t *testing.T) {
	ctx := context.Background()

	t.Run("should sign the exact embedded plaintext part", func(t *testing.T) {
		req := require.New(t)
		k := fake.NewKeyring()
		c := NewComposer(Configuration{Signer: k, Now: fixedNow})

		pm, err := c.ComposeSigned(ctx, draft(), []string{"bob@example.com", "carol@example.com"})
		req.NoError(err)
		req.Equal(ShapeSigned, pm.Shape)
		req.Equal([]string{"bob@example.com", "carol@example.com"}, pm.Recipients)

		signed, signature, micalg, err := SignedParts(pm.Raw)
		req.NoError(err)
		req.Equal("pgp-sha512", micalg)
		req.Len(k.Signed, 1)
		req.Equal(k.Signed[0], signed)
		req.True(k.Verify(signed, signature))

		req.Contains(string(signed), "hello\r\nworld\r\n")
		req.NotContains(strings.ReplaceAll(string(signed), "\r\n", ""), "\n")
	})

	t.Run("should write the RFC 3156 headers", func(t *testing.T) {
		req := require.New(t)
		c := NewComposer(Configuration{Signer: fake.NewKeyring(), Now: fixedNow})

		pm, err := c.ComposeSigned(ctx, draft(), []string{"bob@example.com", "carol@example.com"})
		req.NoError(err)

		msg := readMessage(t, pm.Raw)
		req.Equal("alice@example.com", msg.Header.Get("From"))
		req.Equal("bob@example.com, carol@example.com", msg.Header.Get("To"))
		req.Equal("1.0", msg.Header.Get("MIME-Version"))
		req.True(strings.HasSuffix(msg.Header.Get("Message-ID"), "@example.com>"))

		subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
		req.NoError(err)
		req.Equal("Café ☕", subject)

		date, err := msg.Header.Date()
		req.NoError(err)
		req.True(date.Equal(fixedNow()))

		mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
		req.NoError(err)
		req.Equal("multipart/signed", mediaType)
		req.Equal("application/pgp-signature", params["protocol"])
		req.Equal("pgp-sha512", params["micalg"])

		mr := multipart.NewReader(msg.Body, params["boundary"])
		text, err := mr.NextPart()
		req.NoError(err)
		req.Equal(`text/plain; charset="utf-8"`, text.Header.Get("Content-Type"))
		body, err := io.ReadAll(text)
		req.NoError(err)
		req.Equal("hello\r\nworld\r\n", string(body))

		sig, err := mr.NextPart()
		req.NoError(err)
		req.Equal(`application/pgp-signature; name="signature.asc"`, sig.Header.Get("Content-Type"))
		req.Equal("OpenPGP digital signature", sig.Header.Get("Content-Description"))
		req.Equal(`attachment; filename="signature.asc"`, sig.Header.Get("Content-Disposition"))

		_, err = mr.NextPart()
		req.ErrorIs(err, io.EOF)
	})

	t.Run("should verify with a real OpenPGP key over the transmitted bytes", func(t *testing.T) {
		req := require.New(t)
		alice, err := openpgp.NewEntity("Alice", "alice@example.com")
		req.NoError(err)
		k, err := openpgp.New(openpgp.Configuration{Entities: pgp.EntityList{alice}})
		req.NoError(err)

		c := NewComposer(Configuration{Signer: k})
		d := draft()
		d.Body = "Grüße\nline with trailing space \n" + strings.Repeat("x", 100)

		pm, err := c.ComposeSigned(ctx, d, []string{"bob@example.com"})
		req.NoError(err)

		transmitted, err := base64.URLEncoding.DecodeString(pm.Encode())
		req.NoError(err)

		signed, signature, _, err := SignedParts(transmitted)
		req.NoError(err)
		req.Contains(string(signed), "Content-Transfer-Encoding: quoted-printable")

		_, err = k.Verify(signed, signature)
		req.NoError(err)

		tampered := bytes.ReplaceAll(signed, []byte("\r\n"), []byte("\n"))
		_, err = k.Verify(tampered, signature)
		req.Error(err)

		i := bytes.Index(signed, []byte("\r\n\r\n"))
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(signed[i+4:])))
		req.NoError(err)
		req.Equal("Grüße\r\nline with trailing space \r\n"+strings.Repeat("x", 100)+"\r\n", string(decoded))
	})

	t.Run("should pass signing errors through", func(t *testing.T) {
		req := require.New(t)
		k := fake.NewKeyring()
		k.SigningError = io.ErrUnexpectedEOF
		c := NewComposer(Configuration{Signer: k})

		_, err := c.ComposeSigned(ctx, draft(), []string{"bob@example.com"})
		req.ErrorIs(err, keyring.ErrSigningUnavailable)
	})

	t.Run("should reject invalid input", func(t *testing.T) {
		req := require.New(t)

		_, err := NewComposer(Configuration{}).ComposeSigned(ctx, draft(), []string{"bob@example.com"})
		req.ErrorIs(err, ErrNoSigner)

		c := NewComposer(Configuration{Signer: fake.NewKeyring()})
		_, err = c.ComposeSigned(ctx, draft(), nil)
		req.ErrorIs(err, ErrNoRecipients)

		d := draft()
		d.From = "not an address"
		_, err = c.ComposeSigned(ctx, d, []string{"bob@example.com"})
		req.ErrorIs(err, ErrInvalidAddress)
	})
}

func TestComposeEncrypted(t *testing.T) {
	ctx := context.Background()

	t.Run("should carry only ciphertext in the flat structure", func(t *testing.T) {
		req := require.New(t)
		k := fake.NewKeyring()
		c := NewComposer(Configuration{Encryptor: k, Now: fixedNow})

		d := draft()
		d.Body = "the secret plan"
		pm, err := c.ComposeEncrypted(ctx, d, "bob@example.com")
		req.NoError(err)
		req.Equal(ShapeEncryptedFlat, pm.Shape)
		req.Equal([]string{"bob@example.com"}, pm.Recipients)
		req.NotContains(string(pm.Raw), "secret plan")

		msg := readMessage(t, pm.Raw)
		mediaType, _, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
		req.NoError(err)
		req.Equal("text/plain", mediaType)

		subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
		req.NoError(err)
		req.Equal("Café ☕", subject)

		body, err := io.ReadAll(msg.Body)
		req.NoError(err)
		pt, err := k.Decrypt(body, "bob@example.com")
		req.NoError(err)
		req.Equal("the secret plan", string(pt))
	})

	t.Run("should build multipart/encrypted when selected", func(t *testing.T) {
		req := require.New(t)
		k := fake.NewKeyring()
		c := NewComposer(Configuration{Encryptor: k, Structure: EncryptedPGPMIME})

		pm, err := c.ComposeEncrypted(ctx, draft(), "bob@example.com")
		req.NoError(err)
		req.Equal(ShapeEncryptedPGPMIME, pm.Shape)
		req.NotContains(string(pm.Raw), "world")

		msg := readMessage(t, pm.Raw)
		mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
		req.NoError(err)
		req.Equal("multipart/encrypted", mediaType)
		req.Equal("application/pgp-encrypted", params["protocol"])

		mr := multipart.NewReader(msg.Body, params["boundary"])
		control, err := mr.NextPart()
		req.NoError(err)
		req.Equal("application/pgp-encrypted", control.Header.Get("Content-Type"))
		version, err := io.ReadAll(control)
		req.NoError(err)
		req.Equal("Version: 1\r\n", string(version))

		payload, err := mr.NextPart()
		req.NoError(err)
		req.Equal(`inline; filename="encrypted.asc"`, payload.Header.Get("Content-Disposition"))
		ciphertext, err := io.ReadAll(payload)
		req.NoError(err)

		pt, err := k.Decrypt(ciphertext, "bob@example.com")
		req.NoError(err)
		req.Equal(string(textPart("hello\nworld\n")), string(pt))
	})

	t.Run("should decrypt with the recipient's real key", func(t *testing.T) {
		req := require.New(t)
		bob, err := openpgp.NewEntity("Bob", "bob@example.com")
		req.NoError(err)
		k, err := openpgp.New(openpgp.Configuration{Entities: pgp.EntityList{bob}})
		req.NoError(err)

		c := NewComposer(Configuration{Encryptor: k})
		pm, err := c.ComposeEncrypted(ctx, draft(), "bob@example.com")
		req.NoError(err)

		body, err := io.ReadAll(readMessage(t, pm.Raw).Body)
		req.NoError(err)
		pt, err := k.Decrypt(body)
		req.NoError(err)
		req.Equal("hello\nworld\n", string(pt))
	})

	t.Run("should report the recipient without a key", func(t *testing.T) {
		req := require.New(t)
		c := NewComposer(Configuration{Encryptor: fake.NewKeyring("unknown@y")})

		_, err := c.ComposeEncrypted(ctx, draft(), "unknown@y")
		req.ErrorIs(err, keyring.ErrEncryptionFailed)

		var encErr *keyring.EncryptionError
		req.ErrorAs(err, &encErr)
		req.Equal("unknown@y", encErr.Recipient)

		_, err = NewComposer(Configuration{}).ComposeEncrypted(ctx, draft(), "bob@example.com")
		req.ErrorIs(err, ErrNoEncryptor)
	})
}

func TestDKIM(t *testing.T) {
	req := require.New(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	req.NoError(err)
	pub, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	req.NoError(err)

	k := fake.NewKeyring()
	c := NewComposer(Configuration{
		Signer: k,
		DKIM:   &DKIMConfiguration{Domain: "example.com", Signer: key},
	})

	pm, err := c.ComposeSigned(context.Background(), draft(), []string{"bob@example.com"})
	req.NoError(err)
	req.True(bytes.HasPrefix(pm.Raw, []byte("DKIM-Signature:")))

	verifications, err := dkim.VerifyWithOptions(bytes.NewReader(pm.Raw), &dkim.VerifyOptions{
		LookupTXT: func(domain string) ([]string, error) {
			req.Equal("mail._domainkey.example.com", domain)
			return []string{"v=DKIM1; k=rsa; p=" + base64.StdEncoding.EncodeToString(pub)}, nil
		},
	})
	req.NoError(err)
	req.Len(verifications, 1)
	req.NoError(verifications[0].Err)

	signed, signature, _, err := SignedParts(pm.Raw)
	req.NoError(err)
	req.True(k.Verify(signed, signature))
}

func TestParseEncryptedStructure(t *testing.T) {
	req := require.New(t)

	s, err := ParseEncryptedStructure("")
	req.NoError(err)
	req.Equal(EncryptedFlat, s)

	s, err = ParseEncryptedStructure("PGPMIME")
	req.NoError(err)
	req.Equal(EncryptedPGPMIME, s)

	_, err = ParseEncryptedStructure("smime")
	req.ErrorIs(err, ErrUnknownStructure)
}

func TestSignedPartsRejectsOtherMessages(t *testing.T) {
	req := require.New(t)

	_, _, _, err := SignedParts([]byte("Content-Type: text/plain\r\n\r\nhi\r\n"))
	req.ErrorIs(err, ErrNotSigned)
}
