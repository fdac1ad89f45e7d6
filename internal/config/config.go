// Package config loads the PGPMAIL_* environment, optionally seeded from a
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	TransportGmail = "gmail"
	TransportSMTP  = "smtp"

	KeyringGPG     = "gpg"
	KeyringOpenPGP = "openpgp"
)

var ErrInvalidConfiguration = errors.New("invalid configuration")

type Configuration struct {
	ClientSecrets string `env:"PGPMAIL_CLIENT_SECRETS,default=credentials.json"`
	TokenStorage  string `env:"PGPMAIL_TOKEN_STORAGE,default=gmail.storage"`
	OAuthListen   string `env:"PGPMAIL_OAUTH_LISTEN,default=127.0.0.1:0"`

	Transport   string        `env:"PGPMAIL_TRANSPORT,default=gmail"`
	SMTPHost    string        `env:"PGPMAIL_SMTP_HOST,default=smtp.gmail.com"`
	SMTPPort    int           `env:"PGPMAIL_SMTP_PORT,default=587"`
	SMTPTimeout time.Duration `env:"PGPMAIL_SMTP_TIMEOUT,default=30s"`

	Keyring       string `env:"PGPMAIL_KEYRING,default=gpg"`
	GPGBinary     string `env:"PGPMAIL_GPG_BINARY,default=gpg"`
	GPGHomedir    string `env:"PGPMAIL_GPG_HOMEDIR"`
	Signer        string `env:"PGPMAIL_SIGNER"`
	PublicKeyring string `env:"PGPMAIL_PUBLIC_KEYRING"`
	SecretKeyring string `env:"PGPMAIL_SECRET_KEYRING"`

	Trust              string `env:"PGPMAIL_TRUST,default=always"`
	EncryptedStructure string `env:"PGPMAIL_ENCRYPTED_STRUCTURE,default=flat"`
	Batch              string `env:"PGPMAIL_BATCH,default=per-recipient"`
	Parallel           int    `env:"PGPMAIL_PARALLEL,default=1"`

	DKIMKey      string `env:"PGPMAIL_DKIM_KEY"`
	DKIMDomain   string `env:"PGPMAIL_DKIM_DOMAIN"`
	DKIMSelector string `env:"PGPMAIL_DKIM_SELECTOR,default=mail"`

	LokiURL string `env:"PGPMAIL_LOKI_URL"`
}

// Load reads the process environment. Variables from envFile fill in what the
// environment leaves unset; a missing envFile is not an error.
func Load(envFile string) (Configuration, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return Configuration{}, fmt.Errorf("could not read environment: %w", err)
	}

	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Configuration{}, fmt.Errorf("could not read %s: %w", envFile, err)
		}
		for k, v := range vars {
			if _, ok := es[k]; !ok {
				es[k] = v
			}
		}
	}

	return Parse(es)
}

func Parse(es env.EnvSet) (Configuration, error) {
	var c Configuration
	if err := env.Unmarshal(es, &c); err != nil {
		return Configuration{}, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if err := c.Validate(); err != nil {
		return Configuration{}, err
	}
	return c, nil
}

// Validate checks the fields that select an implementation. Policy values are
// parsed by the packages that own them.
func (c Configuration) Validate() error {
	switch c.Transport {
	case TransportGmail, TransportSMTP:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfiguration, c.Transport)
	}

	switch c.Keyring {
	case KeyringGPG:
	case KeyringOpenPGP:
		if c.PublicKeyring == "" && c.SecretKeyring == "" {
			return fmt.Errorf("%w: the openpgp keyring needs PGPMAIL_PUBLIC_KEYRING or PGPMAIL_SECRET_KEYRING", ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown keyring %q", ErrInvalidConfiguration, c.Keyring)
	}

	if c.Parallel < 1 {
		return fmt.Errorf("%w: parallelism must be at least 1, got %d", ErrInvalidConfiguration, c.Parallel)
	}
	if c.DKIMKey != "" && c.DKIMDomain == "" {
		return fmt.Errorf("%w: PGPMAIL_DKIM_DOMAIN is required with PGPMAIL_DKIM_KEY", ErrInvalidConfiguration)
	}
	return nil
}
