package compose

import (
	"bytes"
	"context"
	"fmt"
	"mime"

	"github.com/wneessen/go-mail"
)

const (
	pgpControlPart = "Content-Type: application/pgp-encrypted\r\n" +
		"Content-Description: PGP/MIME version identification\r\n" +
		"\r\n" +
		"Version: 1\r\n"

	pgpEncryptedPartHeader = "Content-Type: application/octet-stream; name=\"encrypted.asc\"\r\n" +
		"Content-Description: OpenPGP encrypted message\r\n" +
		"Content-Disposition: inline; filename=\"encrypted.asc\"\r\n" +
		"\r\n"
)

// ComposeEncrypted builds a message for a single recipient whose body only
// carries ciphertext readable by that recipient.
func (c *Composer) ComposeEncrypted(ctx context.Context, d Draft, recipient string) (ProtectedMessage, error) {
	if c.encryptor == nil {
		return ProtectedMessage{}, ErrNoEncryptor
	}

	env, err := c.newEnvelope(d, []string{recipient})
	if err != nil {
		return ProtectedMessage{}, err
	}

	var (
		raw   []byte
		shape Shape
	)
	switch c.structure {
	case EncryptedPGPMIME:
		shape = ShapeEncryptedPGPMIME
		ciphertext, err := c.encryptor.Encrypt(ctx, textPart(d.Body), recipient)
		if err != nil {
			return ProtectedMessage{}, err
		}
		raw = buildPGPMIME(env, ciphertext)
	default:
		shape = ShapeEncryptedFlat
		ciphertext, err := c.encryptor.Encrypt(ctx, []byte(d.Body), recipient)
		if err != nil {
			return ProtectedMessage{}, err
		}
		raw, err = buildFlat(env, ciphertext)
		if err != nil {
			return ProtectedMessage{}, err
		}
	}

	raw, err = c.applyDKIM(raw)
	if err != nil {
		return ProtectedMessage{}, err
	}

	return ProtectedMessage{
		Shape:      shape,
		From:       d.From,
		Recipients: []string{recipient},
		MessageID:  env.MessageID,
		Raw:        raw,
	}, nil
}

func buildFlat(env envelope, ciphertext []byte) ([]byte, error) {
	m := mail.NewMsg(
		mail.WithEncoding(mail.NoEncoding),
		mail.WithCharset(mail.CharsetUTF8),
		mail.WithNoDefaultUserAgent(),
	)
	if err := m.From(env.From); err != nil {
		return nil, fmt.Errorf("%w: sender %q: %w", ErrInvalidAddress, env.From, err)
	}
	if err := m.To(env.To...); err != nil {
		return nil, fmt.Errorf("%w: recipient %q: %w", ErrInvalidAddress, env.To, err)
	}
	m.Subject(sanitize(env.Subject))
	m.SetDateWithValue(env.Date)
	m.SetMessageIDWithValue(env.MessageID)
	m.SetBodyString(mail.TypeTextPlain, string(crlf(ciphertext)))

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("could not render message: %w", err)
	}
	return buf.Bytes(), nil
}

func buildPGPMIME(env envelope, ciphertext []byte) []byte {
	boundary := newBoundary()
	contentType := mime.FormatMediaType("multipart/encrypted", map[string]string{
		"boundary": boundary,
		"protocol": "application/pgp-encrypted",
	})

	var buf bytes.Buffer
	writeHeaders(&buf, env, contentType)
	buf.WriteString("This is an OpenPGP/MIME encrypted message (RFC 4880 and 3156)\r\n")

	buf.WriteString("--" + boundary + "\r\n")
	buf.WriteString(pgpControlPart)
	buf.WriteString("\r\n--" + boundary + "\r\n")
	buf.WriteString(pgpEncryptedPartHeader)
	buf.Write(bytes.TrimRight(crlf(ciphertext), "\r\n"))
	buf.WriteString("\r\n\r\n--" + boundary + "--\r\n")

	return buf.Bytes()
}
