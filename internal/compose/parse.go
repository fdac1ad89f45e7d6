package compose

import (
	"bufio"
	"bytes"
	"fmt"
	"mime"
	"net/textproto"
)

// SignedParts extracts the signed entity and the armored signature from a
// raw multipart/signed message without altering a single byte of the
// signed entity.
func SignedParts(raw []byte) (signed, signature []byte, micalg string, err error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	header, err := r.ReadMIMEHeader()
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %w", ErrMalformedMultipart, err)
	}

	mediaType, params, err := mime.ParseMediaType(header.Get("Content-Type"))
	if err != nil {
		return nil, nil, "", fmt.Errorf("%w: %w", ErrNotSigned, err)
	}
	if mediaType != "multipart/signed" || params["boundary"] == "" {
		return nil, nil, "", fmt.Errorf("%w: got %s", ErrNotSigned, mediaType)
	}

	delimiter := []byte("--" + params["boundary"])

	start := bytes.Index(raw, append(append([]byte{}, delimiter...), '\r', '\n'))
	if start < 0 {
		return nil, nil, "", fmt.Errorf("%w: missing first boundary", ErrMalformedMultipart)
	}
	start += len(delimiter) + 2

	inner := append([]byte("\r\n"), delimiter...)
	end := bytes.Index(raw[start:], inner)
	if end < 0 {
		return nil, nil, "", fmt.Errorf("%w: missing second boundary", ErrMalformedMultipart)
	}
	signed = raw[start : start+end]

	rest := raw[start+end+len(inner):]
	rest = bytes.TrimPrefix(rest, []byte("\r\n"))
	stop := bytes.Index(rest, inner)
	if stop < 0 {
		return nil, nil, "", fmt.Errorf("%w: missing closing boundary", ErrMalformedMultipart)
	}

	sigPart := rest[:stop]
	if i := bytes.Index(sigPart, []byte("\r\n\r\n")); i >= 0 {
		signature = sigPart[i+4:]
	} else {
		return nil, nil, "", fmt.Errorf("%w: signature part has no body", ErrMalformedMultipart)
	}

	return signed, signature, params["micalg"], nil
}
