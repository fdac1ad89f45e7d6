package credentials

import "errors"

var (
	ErrCredentialNotFound    = errors.New("credential not found")
	ErrCorruptCredential     = errors.New("credential record is corrupt")
	ErrCredentialUnavailable = errors.New("credential unavailable")
	ErrAuthorizationFailed   = errors.New("authorization failed")
)
