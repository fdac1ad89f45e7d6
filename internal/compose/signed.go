package compose

import (
	"bytes"
	"context"
	"mime"

	"github.com/OliverSchlueter/pgpmail/internal/keyring"
)

const signaturePartHeader = "Content-Type: application/pgp-signature; name=\"signature.asc\"\r\n" +
	"Content-Description: OpenPGP digital signature\r\n" +
	"Content-Disposition: attachment; filename=\"signature.asc\"\r\n" +
	"Content-Transfer-Encoding: 7bit\r\n" +
	"\r\n"

// ComposeSigned builds an RFC 3156 multipart/signed message addressed to
// recipients. The signature covers exactly the plaintext part bytes that are
// embedded in the result.
func (c *Composer) ComposeSigned(ctx context.Context, d Draft, recipients []string) (ProtectedMessage, error) {
	if c.signer == nil {
		return ProtectedMessage{}, ErrNoSigner
	}

	env, err := c.newEnvelope(d, recipients)
	if err != nil {
		return ProtectedMessage{}, err
	}

	part := textPart(d.Body)

	sig, err := c.signer.Sign(ctx, part)
	if err != nil {
		return ProtectedMessage{}, err
	}

	raw := buildSigned(env, part, sig)

	raw, err = c.applyDKIM(raw)
	if err != nil {
		return ProtectedMessage{}, err
	}

	return ProtectedMessage{
		Shape:      ShapeSigned,
		From:       d.From,
		Recipients: recipients,
		MessageID:  env.MessageID,
		Raw:        raw,
	}, nil
}

func buildSigned(env envelope, part []byte, sig keyring.Signature) []byte {
	boundary := newBoundary()
	contentType := mime.FormatMediaType("multipart/signed", map[string]string{
		"boundary": boundary,
		"micalg":   sig.Micalg,
		"protocol": "application/pgp-signature",
	})

	var buf bytes.Buffer
	writeHeaders(&buf, env, contentType)
	buf.WriteString("This is an OpenPGP/MIME signed message (RFC 4880 and 3156)\r\n")

	buf.WriteString("--" + boundary + "\r\n")
	buf.Write(part)
	buf.WriteString("\r\n--" + boundary + "\r\n")
	buf.WriteString(signaturePartHeader)
	buf.Write(bytes.TrimRight(crlf(sig.Armored), "\r\n"))
	buf.WriteString("\r\n\r\n--" + boundary + "--\r\n")

	return buf.Bytes()
}
