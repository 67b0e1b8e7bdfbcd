package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/envhub/env-registry/pkg/signature"
)

func newKeygenCmd() *cobra.Command {
	var (
		out   string
		bits  int
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA key pair for signing registrations",
		Long: `keygen writes <out>.pem (private key, mode 0600) and <out>.pub (public key).

The public key file is what the registry admin binds to a namespace, and the
admin's own public key is what the server loads with --admin-key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			privPath, pubPath := out+".pem", out+".pub"
			if !force {
				for _, p := range []string{privPath, pubPath} {
					if _, err := os.Stat(p); err == nil {
						return fmt.Errorf("%s already exists (use --force to overwrite)", p)
					} else if !errors.Is(err, fs.ErrNotExist) {
						return fmt.Errorf("stat %s: %w", p, err)
					}
				}
			}

			kp, err := signature.GenerateKeyPair(bits)
			if err != nil {
				return err
			}
			if err := os.WriteFile(privPath, kp.PrivateKeyPEM, 0o600); err != nil {
				return fmt.Errorf("write private key: %w", err)
			}
			if err := os.WriteFile(pubPath, kp.PublicKeyPEM, 0o644); err != nil {
				return fmt.Errorf("write public key: %w", err)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "private key: %s\n", privPath)
			fmt.Fprintf(w, "public key:  %s\n", pubPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "envreg", "Path prefix of the generated key files")
	cmd.Flags().IntVar(&bits, "bits", signature.DefaultKeyBits, "RSA modulus size")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")
	return cmd
}
