package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/credentials"
	"github.com/OliverSchlueter/pgpmail/internal/credentials/database/fake"
	"github.com/OliverSchlueter/pgpmail/internal/dispatch"
	"github.com/OliverSchlueter/pgpmail/internal/keyring/openpgp"
	"github.com/OliverSchlueter/pgpmail/internal/transport"
	"github.com/OliverSchlueter/pgpmail/internal/transport/smtp"
	"github.com/OliverSchlueter/pgpmail/internal/transport/smtp/smtptest"
	pgp "github.com/ProtonMail/go-crypto/openpgp"
	"github.com/wneessen/go-mail"
	"golang.org/x/oauth2"
)

const (
	hostname = "pgpmail.test"
	token    = "e2e-access-token"
)

// offlineAuthorizer never reaches Google. The seeded credential is valid, so
// Authorize and Refresh are only called if it is not.
type offlineAuthorizer struct{}

func (offlineAuthorizer) Authorize(context.Context) (credentials.Credential, error) {
	return credentials.Credential{}, errors.New("interactive authorization is not available offline")
}

func (offlineAuthorizer) Refresh(context.Context, credentials.Credential) (credentials.Credential, error) {
	return credentials.Credential{}, errors.New("refresh is not available offline")
}

func (offlineAuthorizer) TokenSource(_ context.Context, c credentials.Credential) oauth2.TokenSource {
	return oauth2.StaticTokenSource(c.Token())
}

func main() {
	outDir := flag.String("out", "e2e-out", "directory for the produced .eml files")
	flag.Parse()

	lokiService := sloki.NewService(sloki.Configuration{
		URL:          "http://localhost:3100/loki/api/v1/push",
		Service:      "pgpmail-e2e",
		ConsoleLevel: slog.LevelDebug,
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   false,
	})
	slog.SetDefault(slog.New(lokiService))

	if err := run(*outDir); err != nil {
		slog.Error("End to end run failed", sloki.WrapError(err))
		os.Exit(1)
	}
}

func run(outDir string) error {
	ctx := context.Background()

	// keys
	var entities pgp.EntityList
	for _, name := range []string{"alice", "bob", "carol"} {
		e, err := openpgp.NewEntity(name, name+"@"+hostname)
		if err != nil {
			return err
		}
		entities = append(entities, e)
	}
	kr, err := openpgp.New(openpgp.Configuration{
		Entities: entities,
		SignerID: "alice@" + hostname,
	})
	if err != nil {
		return err
	}

	// smtp sink
	sink := smtptest.NewServer(smtptest.Configuration{
		Hostname: hostname,
		Token:    token,
	})
	addr, err := sink.Start()
	if err != nil {
		return err
	}
	defer sink.Close()
	slog.Info("Started SMTP sink", "addr", addr)

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}

	// credentials
	db := fake.NewDB()
	db.Item = &credentials.Credential{
		AccessToken:  token,
		RefreshToken: "e2e-refresh-token",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
		Scope:        credentials.GmailFullScope,
	}
	store := credentials.NewStore(credentials.Configuration{
		DB:         db,
		Authorizer: offlineAuthorizer{},
		Scope:      credentials.GmailFullScope,
	})

	newTransport := func(_ context.Context, tokens oauth2.TokenSource) (transport.Transport, error) {
		return smtp.New(smtp.Configuration{
			Host:        host,
			Port:        port,
			TokenSource: tokens,
			TLSPolicy:   mail.NoTLS,
		}), nil
	}

	runs := []struct {
		name      string
		mode      dispatch.Mode
		structure compose.EncryptedStructure
	}{
		{name: "signed", mode: dispatch.ModeSigned},
		{name: "encrypted flat", mode: dispatch.ModeEncrypted, structure: compose.EncryptedFlat},
		{name: "encrypted pgpmime", mode: dispatch.ModeEncrypted, structure: compose.EncryptedPGPMIME},
	}

	draft := dispatch.Draft{
		From:       "Alice <alice@" + hostname + ">",
		Subject:    "Café ☕ end to end",
		Recipients: []string{"bob@" + hostname, "carol@" + hostname, "nobody@" + hostname},
		Body:       "Hello,\n\nthis message went through the whole pipeline.\n-- \nAlice\n",
	}

	for _, r := range runs {
		composer := compose.NewComposer(compose.Configuration{
			Signer:    kr,
			Encryptor: kr,
			Structure: r.structure,
		})
		d := dispatch.NewDispatcher(dispatch.Configuration{
			Credentials: store,
			Composer:    composer,
			Transport:   newTransport,
		})

		seq, err := d.Send(ctx, draft, r.mode)
		if err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
		outcomes := dispatch.Collect(seq)
		slog.Info("Run finished", "run", r.name, "summary", dispatch.Summarize(outcomes).String())
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	for i, msg := range sink.Messages() {
		path := filepath.Join(outDir, fmt.Sprintf("%02d-%s.eml", i, msg.ID))
		if err := os.WriteFile(path, []byte(msg.Data), 0o644); err != nil {
			return err
		}

		status := "not signed"
		if signed, signature, _, err := compose.SignedParts([]byte(msg.Data)); err == nil {
			status = verify(kr, signed, signature)
		}
		slog.Info("Wrote message", "path", path, "to", msg.To, "signature", status)
	}

	return nil
}

func verify(kr *openpgp.Keyring, signed, signature []byte) string {
	signer, err := kr.Verify(signed, signature)
	if err != nil {
		slog.Error("Signature does not verify", sloki.WrapError(err))
		return "bad"
	}
	for name := range signer.Identities {
		return "good (" + name + ")"
	}
	return "good"
}
