package main

import (
	"fmt"
	"io"
	"os"

	"github.com/OliverSchlueter/pgpmail/internal/compose"
	"github.com/OliverSchlueter/pgpmail/internal/keyring/openpgp"
	"github.com/gookit/color"
	"github.com/spf13/cobra"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "verifymail: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	var publicKeyring string

	cmd := &cobra.Command{
		Use:   "verifymail -k PUBKEYS MESSAGE.eml...",
		Short: "verify the detached signature of multipart/signed messages",
		Long: `
Extracts the signed part of each message exactly as it appears on the wire and
checks the detached signature against the given public keyring. Messages whose
line endings were altered after signing fail here.
`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			kr, err := openpgp.New(openpgp.Configuration{PublicKeyring: publicKeyring})
			if err != nil {
				return err
			}

			failed := 0
			for _, path := range args {
				if err := verifyFile(cmd.OutOrStdout(), kr, path); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, color.New(color.FgRed).Render(err.Error()))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d messages failed verification", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&publicKeyring, "keyring", "k", "", "armored public keyring")
	_ = cmd.MarkFlagRequired("keyring")

	return cmd
}

func verifyFile(w io.Writer, kr *openpgp.Keyring, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	signed, signature, micalg, err := compose.SignedParts(raw)
	if err != nil {
		return err
	}

	signer, err := kr.Verify(signed, signature)
	if err != nil {
		return fmt.Errorf("bad signature (%s): %w", micalg, err)
	}

	name := fmt.Sprintf("%X", signer.PrimaryKey.Fingerprint)
	if ident := signer.PrimaryIdentity(); ident != nil {
		name = ident.Name
	}
	fmt.Fprintf(w, "%s: %s by %s (%s)\n", path, color.New(color.FgGreen).Render("good signature"), name, micalg)
	return nil
}
