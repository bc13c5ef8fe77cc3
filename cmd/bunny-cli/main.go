package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/config"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/obfuscation"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/rquest"
	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/solver"
)

func main() {
	var (
		bodyFile  string
		bodyJSON  string
		output    string
		modifiers string
		noEncode  bool
	)

	rootCmd := &cobra.Command{
		Use:   "bunny-cli",
		Short: "Solve one cohort query against the warehouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(bodyFile, bodyJSON, output, modifiers, noEncode)
		},
	}
	rootCmd.Flags().StringVar(&bodyFile, "body", "", "Path to the task payload file")
	rootCmd.Flags().StringVar(&bodyJSON, "body-json", "", "Inline task payload JSON")
	rootCmd.Flags().StringVar(&output, "output", "output.json", "Result file, must end in .json")
	rootCmd.Flags().StringVar(&modifiers, "modifiers", "[]", "Disclosure modifiers as a JSON array")
	rootCmd.Flags().BoolVar(&noEncode, "no-encode", false, "Also write result files decoded, next to the output")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runOnce(bodyFile, bodyJSON, output, modifiers string, noEncode bool) error {
	if (bodyFile == "") == (bodyJSON == "") {
		return fmt.Errorf("exactly one of --body and --body-json is required")
	}
	if !strings.HasSuffix(output, ".json") {
		return fmt.Errorf("--output must end in .json, got %q", output)
	}

	payload := []byte(bodyJSON)
	if bodyFile != "" {
		var err error
		payload, err = os.ReadFile(bodyFile)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
	}

	filters, err := obfuscation.ParseModifiers([]byte(modifiers))
	if err != nil {
		return fmt.Errorf("parse modifiers: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger = logger.Level(cfg.LogLevel())
	if err := cfg.ValidateDatasource(); err != nil {
		return err
	}

	ctx := context.Background()
	client, err := db.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	res := solver.New(client, logger, filters).Solve(ctx, payload)
	if err := writeResult(res, output, noEncode); err != nil {
		return err
	}

	if res.Status != rquest.StatusOK {
		return fmt.Errorf("query failed: %s", res.Message)
	}
	logger.Info().Str("output", output).Msg("done")
	return nil
}

func writeResult(res *rquest.Result, output string, noEncode bool) error {
	data, err := res.Marshal()
	if err != nil {
		return fmt.Errorf("serialise result: %w", err)
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	if !noEncode {
		return nil
	}
	for _, f := range res.QueryResult.Files {
		decoded, err := f.DecodeData()
		if err != nil {
			return fmt.Errorf("decode %s: %w", f.Name, err)
		}
		path := filepath.Join(filepath.Dir(output), f.Name)
		if err := os.WriteFile(path, decoded, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return nil
}
