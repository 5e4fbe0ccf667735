package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"zervios-cms/internal/collections"
	"zervios-cms/internal/metadata"
)

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the schema registry",
	}

	var file string
	cmd.PersistentFlags().StringVarP(&file, "file", "f", "", "schema file (default: schema.file from config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Build the registry and report definition errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := buildRegistry(rootOpts, file)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok: %d collections, %d globals\n", len(reg.Collections()), len(reg.Globals()))
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print every registered collection and global",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := buildRegistry(rootOpts, file)
			if err != nil {
				return err
			}
			return printRegistry(cmd.OutOrStdout(), rootOpts.Format, reg)
		},
	})
	return cmd
}

func buildRegistry(opts *RootOptions, file string) (*metadata.Registry, error) {
	if file == "" {
		cfg, _, err := loadConfig(opts)
		if err != nil {
			return nil, err
		}
		file = cfg.Schema.File
	}
	return collections.Builder(file)()
}

type registryDump struct {
	Collections []*metadata.Collection `json:"collections" yaml:"collections"`
	Globals     []*metadata.Global     `json:"globals" yaml:"globals"`
}

func printRegistry(out io.Writer, format string, reg *metadata.Registry) error {
	dump := registryDump{Collections: reg.Collections(), Globals: reg.Globals()}
	if format == "json" {
		data, err := json.MarshalIndent(dump, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(dump); err != nil {
		return err
	}
	return enc.Close()
}
