package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/scandish/internal/auth"
	"github.com/example/scandish/internal/config"
	"github.com/example/scandish/internal/features"
	"github.com/example/scandish/internal/ppm"
	"github.com/example/scandish/internal/recognizer"
)

var fingerprintHeaders = []string{"avgR", "avgG", "avgB", "hChange", "vChange", "grey", "brown", "blue", "warm"}

func fingerprintCells(fp features.Fingerprint) []string {
	v := fp.Vector()
	cells := make([]string, len(v))
	for i := range v {
		cells[i] = formatFloat(v[i])
	}
	return cells
}

func rightAligned(leading, n int) []columnAlignment {
	aligns := make([]columnAlignment, leading+n)
	for i := leading; i < len(aligns); i++ {
		aligns[i] = alignRight
	}
	return aligns
}

func newValidateCommand() *cobra.Command {
	var flags catalogFlags
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a manifest and print every reference fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := flags.load()
			if err != nil {
				return err
			}
			headers := append([]string{"Model", "Brand", "Keywords"}, fingerprintHeaders...)
			rows := make([][]string, 0, cat.Len())
			for _, e := range cat.Entries() {
				row := []string{e.Model, e.Brand, strings.Join(e.Keywords, ",")}
				rows = append(rows, append(row, fingerprintCells(e.Fingerprint)...))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(headers, rows, rightAligned(3, len(fingerprintHeaders))))
			fmt.Fprintf(out, "Catalog valid: %d entries\n", cat.Len())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newFingerprintCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "fingerprint <file.ppm>...",
		Short: "Print the fingerprint of one or more P3 images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make(map[string]features.Fingerprint, len(args))
			rows := make([][]string, 0, len(args))
			for _, path := range args {
				fp, err := fingerprintFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				results[path] = fp
				rows = append(rows, append([]string{filepath.Base(path)}, fingerprintCells(fp)...))
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			headers := append([]string{"File"}, fingerprintHeaders...)
			fmt.Fprintln(out, renderTable(headers, rows, rightAligned(1, len(fingerprintHeaders))))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newMatchCommand() *cobra.Command {
	var (
		flags    catalogFlags
		imageURL string
	)
	cmd := &cobra.Command{
		Use:   "match [file.ppm]",
		Short: "Recognize a product from a URL hint and/or a P3 image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if imageURL == "" && len(args) == 0 {
				return fmt.Errorf("provide --url, an image file, or both")
			}
			cat, err := flags.load()
			if err != nil {
				return err
			}

			q := recognizer.Query{ImageURL: imageURL}
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				q.ImageData = data
			}

			res, err := recognizer.New(cat).Recognize(q)
			if err != nil {
				return fmt.Errorf("%s: %w", recognizer.Kind(err), err)
			}
			out := cmd.OutOrStdout()
			if res == nil {
				fmt.Fprintln(out, "No match")
				return nil
			}
			distance := "-"
			if res.Distance != nil {
				distance = formatFloat(*res.Distance)
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Brand", "Model", "Name", "Method", "Confidence", "Distance"},
				[][]string{{res.Brand, res.Model, res.Name, res.Method, formatFloat(res.Confidence), distance}},
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&imageURL, "url", "", "Image URL used as a keyword hint")
	return cmd
}

func newNormalizeCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "normalize <file.ppm>",
		Short: "Rewrite a P3 image without comments, one pixel row per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			grid, err := ppm.Decode(data)
			if err != nil {
				return err
			}
			encoded := ppm.Encode(grid)
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(encoded)
				return err
			}
			return os.WriteFile(output, encoded, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output path, - for stdout")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with the configured JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			token, err := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "dev-user", "Token subject (user id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func fingerprintFile(path string) (features.Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return features.Fingerprint{}, err
	}
	grid, err := ppm.Decode(data)
	if err != nil {
		return features.Fingerprint{}, err
	}
	return features.Extract(grid)
}
