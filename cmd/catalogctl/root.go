package main

import (
	"github.com/spf13/cobra"

	"github.com/example/scandish/internal/catalog"
)

type catalogFlags struct {
	manifest string
	baseDir  string
	brand    string
}

func (f *catalogFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.manifest, "manifest", "m", "data/ikea_catalog/catalog.json", "Catalog manifest path")
	cmd.Flags().StringVar(&f.baseDir, "base-dir", "", "Directory reference images are resolved against (default: manifest directory)")
	cmd.Flags().StringVar(&f.brand, "brand", catalog.DefaultBrand, "Brand for entries that do not declare one")
}

func (f *catalogFlags) load() (*catalog.Catalog, error) {
	opts := []catalog.Option{catalog.WithDefaultBrand(f.brand)}
	if f.baseDir != "" {
		opts = append(opts, catalog.WithBaseDir(f.baseDir))
	}
	return catalog.Load(f.manifest, opts...)
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Inspect Scandish reference catalogs and P3 images",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newFingerprintCommand())
	rootCmd.AddCommand(newMatchCommand())
	rootCmd.AddCommand(newNormalizeCommand())
	rootCmd.AddCommand(newTokenCommand())

	return rootCmd
}
