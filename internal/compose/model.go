package compose

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Draft is the user-supplied content shared by every target of a run.
type Draft struct {
	From    string
	Subject string
	Body    string
}

type Shape int

const (
	ShapeSigned Shape = iota
	ShapeEncryptedFlat
	ShapeEncryptedPGPMIME
)

func (s Shape) String() string {
	switch s {
	case ShapeSigned:
		return "signed"
	case ShapeEncryptedFlat:
		return "encrypted-flat"
	case ShapeEncryptedPGPMIME:
		return "encrypted-pgpmime"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// EncryptedStructure selects how ciphertext is laid out in the message.
type EncryptedStructure string

const (
	// EncryptedFlat puts the armored ciphertext in a text/plain body.
	EncryptedFlat EncryptedStructure = "flat"
	// EncryptedPGPMIME builds an RFC 3156 multipart/encrypted message. Gmail
	// rewrites this structure on send.
	EncryptedPGPMIME EncryptedStructure = "pgpmime"
)

func ParseEncryptedStructure(s string) (EncryptedStructure, error) {
	switch EncryptedStructure(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncryptedFlat:
		return EncryptedFlat, nil
	case EncryptedPGPMIME, "pgp/mime":
		return EncryptedPGPMIME, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStructure, s)
	}
}

// ProtectedMessage is a complete RFC 5322 message ready for submission.
type ProtectedMessage struct {
	Shape      Shape
	From       string
	Recipients []string
	MessageID  string
	Raw        []byte
}

// Encode returns the URL-safe base64 form of the raw message.
func (p ProtectedMessage) Encode() string {
	return base64.URLEncoding.EncodeToString(p.Raw)
}
