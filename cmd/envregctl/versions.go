package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/envhub/env-registry/pkg/envreg"
	"github.com/envhub/env-registry/pkg/signature"
	"github.com/envhub/env-registry/pkg/version"
)

func newVersionCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Register and inspect environment versions",
	}
	cmd.AddCommand(newVersionRegisterCmd(opts))
	cmd.AddCommand(newVersionGetCmd(opts))
	cmd.AddCommand(newVersionLatestCmd(opts))
	cmd.AddCommand(newVersionClosureCmd(opts))
	return cmd
}

// loadManifest reads a version manifest: the registration body without its
// signature.
func loadManifest(path string) (*envreg.VersionRegistration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var reg envreg.VersionRegistration
	if err := dec.Decode(&reg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("manifest %s is empty", path)
		}
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if reg.Dependencies == nil {
		reg.Dependencies = []envreg.DependencyRef{}
	}
	return &reg, nil
}

// checkManifest catches the mistakes the server would reject before a
// signature is spent on them.
func checkManifest(reg *envreg.VersionRegistration) error {
	var problems []string
	if reg.Name == "" {
		problems = append(problems, "name is required")
	}
	if !version.Validate(reg.Version) {
		problems = append(problems, fmt.Sprintf("version %q must be of the form %s", reg.Version, version.FormatHint))
	}
	if len(reg.Bundles) == 0 {
		problems = append(problems, "at least one bundle is required")
	}

	types := mapset.NewThreadUnsafeSet[envreg.BundleType]()
	for _, b := range reg.Bundles {
		if !b.Type.Valid() {
			problems = append(problems, fmt.Sprintf("bundle type %q is not env or dll", b.Type))
			continue
		}
		if !types.Add(b.Type) {
			problems = append(problems, fmt.Sprintf("more than one %s bundle", b.Type))
		}
		if b.URI == "" || b.CRC == "" || b.Hash == "" {
			problems = append(problems, fmt.Sprintf("%s bundle must have a uri, crc and hash", b.Type))
		}
	}

	deps := mapset.NewThreadUnsafeSet[string]()
	for _, d := range reg.Dependencies {
		if !version.Validate(d.Version) {
			problems = append(problems, fmt.Sprintf("dependency %s has a malformed version", d))
		}
		if !deps.Add(d.Name) {
			problems = append(problems, fmt.Sprintf("dependency %s is listed more than once", d.Name))
		}
		if !envreg.ValidateDependencyPrefix(reg.Name, d.Name) {
			problems = append(problems, fmt.Sprintf("dependency %s is not under a parent namespace of %s", d.Name, reg.Name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid manifest:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func newVersionRegisterCmd(opts *options) *cobra.Command {
	var manifestPath, keyPath string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "register -f <manifest.yaml> --key <publisher.pem>",
		Short: "Sign and register a new version from a manifest",
		Example: `  # manifest.yaml
  name: sample.top
  version: 0.0.3
  bundles:
    - {type: env, uri: s3://bundles/top/env.zip, crc: 1f2e, hash: "sha256:aa"}
    - {type: dll, uri: s3://bundles/top/lib.dll, crc: 3c4d, hash: "sha256:bb"}
  dependencies:
    - {name: sample, version: 0.0.3}

  envregctl version register -f manifest.yaml --key publisher.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := loadManifest(manifestPath)
			if err != nil {
				return err
			}
			if err := checkManifest(reg); err != nil {
				return err
			}

			privPEM, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("couldn't read publisher key: %w", err)
			}
			reg.Signature, err = signature.Sign(privPEM, reg.Message())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if dryRun {
				return printJSON(w, reg)
			}

			var res envreg.RegistrationResult
			if err := opts.client().postJSON(apiPrefix+"/versions", reg, &res); err != nil {
				return err
			}
			if structured(opts.outputFmt) {
				return printOutput(w, opts.outputFmt, res)
			}
			printTable(w, []string{"Name", "Version", "Namespace", "Latest"},
				[][]string{{res.Name, res.Version, res.Namespace, strconv.FormatBool(res.Latest)}})
			return nil
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "file", "f", "", "Version manifest (YAML)")
	cmd.Flags().StringVar(&keyPath, "key", "", "Publisher private key (PEM)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the signed registration instead of submitting it")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func newVersionGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <name> <version>",
		Short: "Show a version with its bundles and direct dependencies",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var m envreg.VersionManifest
			if err := opts.client().getJSON(environmentPath(args[0], "versions", args[1]), &m); err != nil {
				return err
			}
			return printManifest(cmd.OutOrStdout(), opts.outputFmt, m, m.Bundles, m.Dependencies)
		},
	}
}

func newVersionLatestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "latest <name>",
		Short: "Show the latest version of a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var m envreg.VersionManifest
			if err := opts.client().getJSON(environmentPath(args[0], "latest"), &m); err != nil {
				return err
			}
			return printManifest(cmd.OutOrStdout(), opts.outputFmt, m, m.Bundles, m.Dependencies)
		},
	}
}

func newVersionClosureCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "closure <name> <version>",
		Short: "Show a version with every version it transitively depends on",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var c envreg.ClosureManifest
			if err := opts.client().getJSON(environmentPath(args[0], "versions", args[1], "closure"), &c); err != nil {
				return err
			}
			return printManifest(cmd.OutOrStdout(), opts.outputFmt, c, c.Bundles, c.Dependencies)
		},
	}
}

// printManifest prints v as-is for structured formats, and as one table of
// bundles and dependency bundles otherwise.
func printManifest(w io.Writer, format string, v any, bundles []envreg.BundleManifest, deps []envreg.DependencyManifest) error {
	if structured(format) {
		return printOutput(w, format, v)
	}
	var rows [][]string
	for _, b := range bundles {
		rows = append(rows, []string{"", string(b.Type), truncate(b.URI, 60), b.CRC, truncate(b.Hash, 24)})
	}
	for _, d := range deps {
		for _, b := range d.Bundles {
			rows = append(rows, []string{d.Name + "@" + d.Version, string(b.Type), truncate(b.URI, 60), b.CRC, truncate(b.Hash, 24)})
		}
		if len(d.Bundles) == 0 {
			rows = append(rows, []string{d.Name + "@" + d.Version, "-", "", "", ""})
		}
	}
	printTable(w, []string{"Dependency", "Type", "URI", "CRC", "Hash"}, rows)
	return nil
}

func newVersionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List every environment name and its versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var all []envreg.EnvironmentVersions
			if err := opts.client().getJSON(apiPrefix+"/versions", &all); err != nil {
				return err
			}
			if structured(opts.outputFmt) {
				return printOutput(cmd.OutOrStdout(), opts.outputFmt, all)
			}
			rows := make([][]string, len(all))
			for i, e := range all {
				rows[i] = []string{e.Name, strings.Join(e.Versions, ", ")}
			}
			printTable(cmd.OutOrStdout(), []string{"Name", "Versions"}, rows)
			return nil
		},
	}
}
