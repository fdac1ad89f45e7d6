package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/OliverSchlueter/goutils/sloki"
	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/config"
	"github.com/OliverSchlueter/pgpmail/internal/dispatch"
	"github.com/OliverSchlueter/pgpmail/internal/keyring"
	"github.com/spf13/cobra"
)

type options struct {
	sender    string
	subject   string
	encrypted bool
	verbose   bool
	debug     bool
	batch     string
	trust     string
	structure string
	transport string
	keyring   string
	parallel  int
}

// newRootCommand builds the CLI. The configuration is loaded only when a
// message is sent, so --help and --version work with a broken environment.
func newRootCommand(loadConfig func() (config.Configuration, error)) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "pgpmail -r SENDER -s SUBJECT RECIPIENT...",
		Short: "send a PGP signed or encrypted message through Gmail",
		Long: `
Reads the message body from stdin, signs it (or encrypts it for each recipient
with -p) using the local keyring and submits it through the Gmail API.

The OAuth2 credential is kept in the token storage file and refreshed as
needed. When no usable credential exists a browser authorization is started.
`,
		Version:       version,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			applyFlags(cmd, opts, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			return send(cmd, cfg, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.sender, "sender", "r", "", "sender address, e.g. \"Alice <alice@example.com>\"")
	f.StringVarP(&opts.subject, "subject", "s", "", "message subject")
	f.BoolVarP(&opts.encrypted, "pgp", "p", false, "encrypt the message for every recipient instead of signing it")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress and print an outcome table")
	f.BoolVarP(&opts.debug, "debug", "d", false, "log debug output")
	f.StringVar(&opts.batch, "batch", "per-recipient", "recipient batching: per-recipient or joint (overrides PGPMAIL_BATCH)")
	f.StringVar(&opts.trust, "trust", "always", "recipient key trust: always or verify (overrides PGPMAIL_TRUST)")
	f.StringVar(&opts.structure, "encrypted-structure", "flat", "encrypted message layout: flat or pgpmime (overrides PGPMAIL_ENCRYPTED_STRUCTURE)")
	f.StringVar(&opts.transport, "transport", config.TransportGmail, "submission transport: gmail or smtp (overrides PGPMAIL_TRANSPORT)")
	f.StringVar(&opts.keyring, "keyring", config.KeyringGPG, "keyring backend: gpg or openpgp (overrides PGPMAIL_KEYRING)")
	f.IntVar(&opts.parallel, "parallel", 1, "number of messages sent concurrently (overrides PGPMAIL_PARALLEL)")
	f.BoolP("version", "V", false, "print the version and exit")

	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

// applyFlags copies the flags given on the command line over the configured
// values.
func applyFlags(cmd *cobra.Command, opts options, cfg *config.Configuration) {
	f := cmd.Flags()
	if f.Changed("batch") {
		cfg.Batch = opts.batch
	}
	if f.Changed("trust") {
		cfg.Trust = opts.trust
	}
	if f.Changed("encrypted-structure") {
		cfg.EncryptedStructure = opts.structure
	}
	if f.Changed("transport") {
		cfg.Transport = opts.transport
	}
	if f.Changed("keyring") {
		cfg.Keyring = opts.keyring
	}
	if f.Changed("parallel") {
		cfg.Parallel = opts.parallel
	}
}

func send(cmd *cobra.Command, cfg config.Configuration, opts options, args []string) error {
	setupLogging(cfg, opts)

	recipients := splitRecipients(args)
	if len(recipients) == 0 {
		return fmt.Errorf("%w: no recipients", dispatch.ErrInvalidDraft)
	}

	trust, err := keyring.ParseTrustPolicy(cfg.Trust)
	if err != nil {
		return err
	}
	structure, err := compose.ParseEncryptedStructure(cfg.EncryptedStructure)
	if err != nil {
		return err
	}
	batching, err := dispatch.ParseBatching(cfg.Batch)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("could not read body: %w", err)
	}

	mode := dispatch.ModeSigned
	if opts.encrypted {
		mode = dispatch.ModeEncrypted
	}

	d, err := newDispatcher(cfg, trust, structure, batching)
	if err != nil {
		return err
	}

	seq, err := d.Send(cmd.Context(), dispatch.Draft{
		From:       opts.sender,
		Subject:    opts.subject,
		Recipients: recipients,
		Body:       string(body),
	}, mode)
	if err != nil {
		return err
	}

	outcomes := dispatch.Collect(seq)
	summary := dispatch.Summarize(outcomes)
	slog.Info("Dispatch finished", slog.String("summary", summary.String()), slog.Int("targets", len(outcomes)))

	if opts.verbose {
		printOutcomes(cmd.OutOrStdout(), outcomes)
	}
	return nil
}

// splitRecipients accepts recipients as separate arguments or as a single
// space separated argument.
func splitRecipients(args []string) []string {
	var recipients []string
	for _, arg := range args {
		recipients = append(recipients, strings.Fields(arg)...)
	}
	return recipients
}

func setupLogging(cfg config.Configuration, opts options) {
	lokiService := sloki.NewService(sloki.Configuration{
		URL:          cfg.LokiURL,
		Service:      "pgpmail",
		ConsoleLevel: consoleLevel(opts),
		LokiLevel:    slog.LevelInfo,
		EnableLoki:   cfg.LokiURL != "",
	})
	slog.SetDefault(slog.New(lokiService))
}

// consoleLevel only drops to debug with -d. -v adds the outcome table.
func consoleLevel(opts options) slog.Level {
	if opts.debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
