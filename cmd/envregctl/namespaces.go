package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/envhub/env-registry/pkg/envreg"
	"github.com/envhub/env-registry/pkg/signature"
)

func newNamespaceCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "namespace",
		Short: "Manage namespaces",
	}
	cmd.AddCommand(newNamespaceRegisterCmd(opts))
	return cmd
}

func newNamespaceRegisterCmd(opts *options) *cobra.Command {
	var adminKeyPath, publisherKeyPath string

	cmd := &cobra.Command{
		Use:   "register <namespace>",
		Short: "Bind a publisher public key to a namespace",
		Long: `register signs the namespace and the publisher's public key with the admin
private key and submits them. Afterwards the publisher key may register
versions of the namespace and of every name below it.`,
		Example: `  envregctl namespace register sample --admin-key admin.pem --key publisher.pub`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			namespace := args[0]
			if namespace == "" {
				return fmt.Errorf("namespace can't be an empty string")
			}

			adminPEM, err := os.ReadFile(adminKeyPath)
			if err != nil {
				return fmt.Errorf("couldn't read admin key: %w", err)
			}
			publisherPEM, err := os.ReadFile(publisherKeyPath)
			if err != nil {
				return fmt.Errorf("couldn't read publisher key: %w", err)
			}
			if _, err := signature.ParsePublicKey(string(publisherPEM)); err != nil {
				return fmt.Errorf("%s: %w", publisherKeyPath, err)
			}

			key := signature.EncodePublicKey(publisherPEM)
			sig, err := signature.Sign(adminPEM, signature.NamespaceMessage(namespace, key))
			if err != nil {
				return err
			}

			var resp map[string]string
			err = opts.client().postJSON(apiPrefix+"/namespaces", envreg.NamespaceRegistration{
				Namespace: namespace,
				Key:       key,
				Signature: sig,
			}, &resp)
			if err != nil {
				return err
			}

			if structured(opts.outputFmt) {
				return printOutput(cmd.OutOrStdout(), opts.outputFmt, resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "namespace %s registered\n", resp["namespace"])
			return nil
		},
	}

	cmd.Flags().StringVar(&adminKeyPath, "admin-key", "", "Admin private key (PEM)")
	cmd.Flags().StringVar(&publisherKeyPath, "key", "", "Publisher public key (PEM)")
	_ = cmd.MarkFlagRequired("admin-key")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newNamespacesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "namespaces",
		Short: "List registered namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var namespaces []envreg.NamespaceInfo
			if err := opts.client().getJSON(apiPrefix+"/namespaces", &namespaces); err != nil {
				return err
			}

			if structured(opts.outputFmt) {
				return printOutput(cmd.OutOrStdout(), opts.outputFmt, namespaces)
			}
			rows := make([][]string, len(namespaces))
			for i, ns := range namespaces {
				rows[i] = []string{ns.Namespace, ns.CreatedAt.Format(time.RFC3339)}
			}
			printTable(cmd.OutOrStdout(), []string{"Namespace", "Created"}, rows)
			return nil
		},
	}
}
