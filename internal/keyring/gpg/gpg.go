package gpg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/pgpmail/internal/keyring"
)

// Keyring shells out to the gpg binary. Passphrases are left to gpg-agent.
type Keyring struct {
	binary     string
	homedir    string
	localUser  string
	digestAlgo string
	trust      keyring.TrustPolicy
}

type Configuration struct {
	// Binary defaults to "gpg".
	Binary string
	// Homedir overrides GNUPGHOME when set.
	Homedir string
	// LocalUser selects the signing key instead of gpg's default key.
	LocalUser string
	// DigestAlgo defaults to SHA512.
	DigestAlgo string
	Trust      keyring.TrustPolicy
}

func New(config Configuration) *Keyring {
	if config.Binary == "" {
		config.Binary = "gpg"
	}
	if config.DigestAlgo == "" {
		config.DigestAlgo = "SHA512"
	}
	if config.Trust == "" {
		config.Trust = keyring.TrustAlways
	}

	return &Keyring{
		binary:     config.Binary,
		homedir:    config.Homedir,
		localUser:  config.LocalUser,
		digestAlgo: config.DigestAlgo,
		trust:      config.Trust,
	}
}

func (k *Keyring) Sign(ctx context.Context, payload []byte) (keyring.Signature, error) {
	args := []string{"--armor", "--detach-sign", "--digest-algo", k.digestAlgo}
	if k.localUser != "" {
		args = append(args, "--local-user", k.localUser)
	}

	out, log, err := k.run(ctx, payload, args...)
	if err != nil {
		if ctx.Err() != nil {
			return keyring.Signature{}, ctx.Err()
		}
		return keyring.Signature{}, fmt.Errorf("%w: %s: %w", keyring.ErrSigningUnavailable, log.signingReason(), err)
	}

	id, ok := log.hashAlgo()
	if !ok {
		return keyring.Signature{}, fmt.Errorf("%w: gpg did not report SIG_CREATED", keyring.ErrSigningUnavailable)
	}
	micalg, ok := keyring.MicalgForID(id)
	if !ok {
		return keyring.Signature{}, fmt.Errorf("%w: unsupported digest algorithm %d", keyring.ErrSigningUnavailable, id)
	}

	return keyring.Signature{Armored: out, Micalg: micalg}, nil
}

func (k *Keyring) Encrypt(ctx context.Context, payload []byte, recipient string) ([]byte, error) {
	out, log, err := k.run(ctx, payload, k.encryptArgs(recipient)...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &keyring.EncryptionError{
			Recipient: recipient,
			Reason:    log.encryptionReason(),
			Err:       err,
		}
	}
	if _, ok := log.find("END_ENCRYPTION"); !ok && len(out) == 0 {
		return nil, &keyring.EncryptionError{Recipient: recipient, Reason: "gpg produced no ciphertext"}
	}

	return out, nil
}

func (k *Keyring) encryptArgs(recipient string) []string {
	args := []string{"--armor", "--encrypt", "--recipient", recipient}
	if k.trust == keyring.TrustAlways {
		args = append(args, "--trust-model", "always")
	}
	return args
}

func (k *Keyring) baseArgs() []string {
	args := []string{"--batch", "--no-tty", "--yes", "--status-fd", "2"}
	if k.homedir != "" {
		args = append(args, "--homedir", k.homedir)
	}
	return args
}

func (k *Keyring) run(ctx context.Context, stdin []byte, args ...string) ([]byte, statusLog, error) {
	args = append(k.baseArgs(), args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, k.binary, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Running gpg", slog.String("args", strings.Join(args, " ")))

	err := cmd.Run()
	log, other := parseStatus(stderr.Bytes())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			slog.Debug("gpg exited with error", slog.Int("exit_code", exitErr.ExitCode()), slog.String("stderr", strings.Join(other, "\n")), sloki.WrapError(err))
		}
		return nil, log, err
	}

	return stdout.Bytes(), log, nil
}
