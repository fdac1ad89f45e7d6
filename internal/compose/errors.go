package compose

import "errors"

var (
	ErrNoSigner           = errors.New("no signer configured")
	ErrNoEncryptor        = errors.New("no encryptor configured")
	ErrNoRecipients       = errors.New("no recipients")
	ErrInvalidAddress     = errors.New("invalid address")
	ErrUnknownStructure   = errors.New("unknown encrypted structure")
	ErrNotSigned          = errors.New("message is not multipart/signed")
	ErrMalformedMultipart = errors.New("malformed multipart body")
)
