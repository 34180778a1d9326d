package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jonathan/role-audition/internal/dimensions"
	"github.com/jonathan/role-audition/internal/extraction"
	"github.com/jonathan/role-audition/internal/fetch"
	"github.com/jonathan/role-audition/internal/ingestion"
	"github.com/jonathan/role-audition/internal/observability"
	"github.com/spf13/cobra"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a structured role definition from a job description",
	Long:  "Read a job description from a file or URL and extract the role definition, context flags and clarifier questions as JSON.",
	RunE:  runExtract,
}

var (
	extractJDFile     string
	extractURL        string
	extractUseBrowser bool
	extractOutputFile string
	extractVerbose    bool
)

func init() {
	extractCmd.Flags().StringVar(&extractJDFile, "jd", "", "Path to a job description text file")
	extractCmd.Flags().StringVar(&extractURL, "url", "", "URL of a job posting to fetch")
	extractCmd.Flags().BoolVar(&extractUseBrowser, "use-browser", false, "Render the posting with headless Chrome when the plain fetch finds too little text")
	extractCmd.Flags().StringVarP(&extractOutputFile, "out", "o", "", "Path to output JSON file (default stdout)")
	extractCmd.Flags().BoolVarP(&extractVerbose, "verbose", "v", false, "Print a readable summary to stderr")
	extractCmd.MarkFlagsMutuallyExclusive("jd", "url")
	extractCmd.MarkFlagsOneRequired("jd", "url")

	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireAPIKey(cfg); err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var text string
	if extractJDFile != "" {
		text, _, err = ingestion.IngestFromFile(extractJDFile)
	} else {
		opts := ingestion.URLOptions{Logger: logger}
		if extractUseBrowser || cfg.UseBrowser {
			opts.Renderer = fetch.NewChromeRenderer(logger)
		}
		text, _, err = ingestion.IngestFromURL(ctx, extractURL, opts)
	}
	if err != nil {
		return fmt.Errorf("failed to read job description: %w", err)
	}

	client, err := newLLMClient(ctx, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}
	defer client.Close()

	result, err := extraction.NewExtractor(client, extraction.WithLogger(logger)).Extract(ctx, text)
	if err != nil {
		return err
	}

	if extractVerbose || cfg.Verbose {
		printer := observability.NewPrinter(cmd.ErrOrStderr())
		printer.PrintRoleDefinition(result)
		printer.PrintDimensionSelection(dimensions.Select(result.ContextFlags))
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := writeOutput(cmd.OutOrStdout(), extractOutputFile, data); err != nil {
		return err
	}
	if extractOutputFile != "" {
		fmt.Fprintf(os.Stderr, "Role definition written to %s\n", extractOutputFile)
	}
	return nil
}
