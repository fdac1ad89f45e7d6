package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/config"
	"github.com/OliverSchlueter/pgpmail/internal/credentials"
	"github.com/OliverSchlueter/pgpmail/internal/credentials/database/file"
	"github.com/OliverSchlueter/pgpmail/internal/credentials/oauth"
	"github.com/OliverSchlueter/pgpmail/internal/dispatch"
	"github.com/OliverSchlueter/pgpmail/internal/keyring"
	"github.com/OliverSchlueter/pgpmail/internal/keyring/gpg"
	"github.com/OliverSchlueter/pgpmail/internal/keyring/openpgp"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"github.com/OliverSchlueter/pgpmail/internal/transport/gmailapi"
	"github.com/OliverSchlueter/pgpmail/internal/transport/smtp"
	"golang.org/x/oauth2"
)

func newDispatcher(cfg config.Configuration, trust keyring.TrustPolicy, structure compose.EncryptedStructure, batching dispatch.Batching) (*dispatch.Dispatcher, error) {
	kr, err := newKeyring(cfg, trust)
	if err != nil {
		return nil, err
	}

	var dkim *compose.DKIMConfiguration
	if cfg.DKIMKey != "" {
		signer, err := compose.LoadDKIMPrivateKey(cfg.DKIMKey)
		if err != nil {
			return nil, err
		}
		dkim = &compose.DKIMConfiguration{
			Domain:   cfg.DKIMDomain,
			Selector: cfg.DKIMSelector,
			Signer:   signer,
		}
	}

	composer := compose.NewComposer(compose.Configuration{
		Signer:    kr,
		Encryptor: kr,
		Structure: structure,
		DKIM:      dkim,
	})

	scope := credentials.GmailComposeScope
	if cfg.Transport == config.TransportSMTP {
		scope = credentials.GmailFullScope
	}

	// stdin carries the body, so a pasted code has to come from the terminal
	var codeInput io.Reader
	if tty, err := os.Open("/dev/tty"); err == nil {
		codeInput = tty
	}

	authorizer, err := oauth.New(oauth.Configuration{
		ClientSecretsPath: cfg.ClientSecrets,
		Scope:             scope,
		ListenAddr:        cfg.OAuthListen,
		Prompt:            os.Stderr,
		CodeInput:         codeInput,
	})
	if err != nil {
		return nil, err
	}

	store := credentials.NewStore(credentials.Configuration{
		DB:         file.NewDB(cfg.TokenStorage),
		Authorizer: authorizer,
		Scope:      scope,
	})

	return dispatch.NewDispatcher(dispatch.Configuration{
		Credentials: store,
		Composer:    composer,
		Transport:   newTransportFactory(cfg),
		Batching:    batching,
		Concurrency: cfg.Parallel,
	}), nil
}

func newKeyring(cfg config.Configuration, trust keyring.TrustPolicy) (keyring.Keyring, error) {
	switch cfg.Keyring {
	case config.KeyringOpenPGP:
		kr, err := openpgp.New(openpgp.Configuration{
			PublicKeyring: cfg.PublicKeyring,
			SecretKeyring: cfg.SecretKeyring,
			SignerID:      cfg.Signer,
			Trust:         trust,
		})
		if err != nil {
			return nil, fmt.Errorf("could not load keyring: %w", err)
		}
		if cfg.Parallel > 1 {
			return keyring.Serialized(kr), nil
		}
		return kr, nil

	default:
		return gpg.New(gpg.Configuration{
			Binary:    cfg.GPGBinary,
			Homedir:   cfg.GPGHomedir,
			LocalUser: cfg.Signer,
			Trust:     trust,
		}), nil
	}
}

func newTransportFactory(cfg config.Configuration) dispatch.TransportFactory {
	return func(ctx context.Context, tokens oauth2.TokenSource) (transport.Transport, error) {
		if cfg.Transport == config.TransportSMTP {
			return smtp.New(smtp.Configuration{
				Host:        cfg.SMTPHost,
				Port:        cfg.SMTPPort,
				TokenSource: tokens,
				Timeout:     cfg.SMTPTimeout,
			}), nil
		}

		t, err := gmailapi.New(ctx, gmailapi.Configuration{
			TokenSource: tokens,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}
