package compose

import (
	"time"

	"github.com/OliverSchlueter/pgpmail/internal/keyring"
	"github.com/google/uuid"
)

type Composer struct {
	signer    keyring.Signer
	encryptor keyring.Encryptor
	structure EncryptedStructure
	domain    string
	dkim      *DKIMConfiguration
	now       func() time.Time
}

type Configuration struct {
	Signer    keyring.Signer
	Encryptor keyring.Encryptor
	// Structure defaults to EncryptedFlat.
	Structure EncryptedStructure
	// Domain is used for Message-ID values. Defaults to the sender's domain.
	Domain string
	// DKIM signs finished messages when set.
	DKIM *DKIMConfiguration
	Now  func() time.Time
}

func NewComposer(config Configuration) *Composer {
	if config.Structure == "" {
		config.Structure = EncryptedFlat
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Composer{
		signer:    config.Signer,
		encryptor: config.Encryptor,
		structure: config.Structure,
		domain:    config.Domain,
		dkim:      config.DKIM,
		now:       config.Now,
	}
}

func newBoundary() string {
	return "pgpmail-" + uuid.NewString()
}
