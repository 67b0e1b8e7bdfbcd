package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServerURL = "http://localhost:8080"

// options are the persistent flags shared by every command.
type options struct {
	serverURL string
	outputFmt string
}

// client returns a registry client for the configured server.
func (o *options) client() *registryClient {
	return newClient(o.serverURL)
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "envregctl",
		Short: "CLI for the environment registry",
		Long: `envregctl publishes and inspects environments in an environment registry.

It generates publisher key pairs, registers namespaces with the admin key,
signs and uploads version manifests, and resolves versions and their
dependency closures.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOutputFormat(opts.outputFmt)
		},
	}

	server := os.Getenv("ENVREG_SERVER")
	if server == "" {
		server = defaultServerURL
	}
	cmd.PersistentFlags().StringVar(&opts.serverURL, "server", server, "Registry server URL (env: ENVREG_SERVER)")
	cmd.PersistentFlags().StringVarP(&opts.outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	cmd.AddCommand(newKeygenCmd())
	cmd.AddCommand(newNamespaceCmd(opts))
	cmd.AddCommand(newNamespacesCmd(opts))
	cmd.AddCommand(newVersionCmd(opts))
	cmd.AddCommand(newVersionsCmd(opts))
	cmd.AddCommand(newHealthCmd(opts))
	return cmd
}
