package keyring

import (
	"errors"
	"fmt"
)

var (
	ErrSigningUnavailable = errors.New("signing unavailable")
	ErrEncryptionFailed   = errors.New("encryption failed")
	ErrUnknownTrustPolicy = errors.New("unknown trust policy")
)

// EncryptionError reports why no ciphertext could be produced for Recipient.
type EncryptionError struct {
	Recipient string
	Reason    string
	Err       error
}

func (e *EncryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encryption to %s failed: %s: %v", e.Recipient, e.Reason, e.Err)
	}
	return fmt.Sprintf("encryption to %s failed: %s", e.Recipient, e.Reason)
}

func (e *EncryptionError) Is(target error) bool {
	return target == ErrEncryptionFailed
}

func (e *EncryptionError) Unwrap() error {
	return e.Err
}
