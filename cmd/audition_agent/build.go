package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/observability"
	"github.com/jonathan/role-audition/internal/scaffold"
	"github.com/jonathan/role-audition/internal/tracker"
	"github.com/jonathan/role-audition/internal/types"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build an audition scaffold from a role definition file",
	Long: `Build an audition scaffold synchronously against the store. The definition
file is the JSON written by "extract --out". Re-running with --project reuses
the stored scaffold while the definition is unchanged.`,
	RunE: runBuild,
}

var (
	buildDefinitionFile string
	buildAnswersFile    string
	buildDatabaseURL    string
	buildProjectID      string
	buildRetry          bool
	buildOutputFile     string
	buildVerbose        bool
)

func init() {
	buildCmd.Flags().StringVar(&buildDefinitionFile, "definition", "", "Path to a role definition JSON file (required)")
	buildCmd.Flags().StringVar(&buildAnswersFile, "answers", "", "Path to a JSON object of clarifier answers")
	buildCmd.Flags().StringVar(&buildDatabaseURL, "db", "", "Database URL; sqlite:<dir> selects the local store (default DATABASE_URL or "+defaultLocalDB+")")
	buildCmd.Flags().StringVar(&buildProjectID, "project", "", "Existing project id to build for")
	buildCmd.Flags().BoolVar(&buildRetry, "retry", false, "Start a fresh cycle when the stored one FAILED")
	buildCmd.Flags().StringVarP(&buildOutputFile, "out", "o", "", "Path to output JSON file (default stdout)")
	buildCmd.Flags().BoolVarP(&buildVerbose, "verbose", "v", false, "Print a readable summary to stderr")
	_ = buildCmd.MarkFlagRequired("definition")

	rootCmd.AddCommand(buildCmd)
}

// definitionFile is the shape written by extract --out.
type definitionFile struct {
	DefinitionData     json.RawMessage        `json:"definition_data"`
	ContextFlags       types.RoleContextFlags `json:"context_flags"`
	ClarifierQuestions []string               `json:"clarifier_questions"`
}

func readDefinitionFile(path string) (types.RoleDefinitionInput, error) {
	var in types.RoleDefinitionInput
	data, err := os.ReadFile(path)
	if err != nil {
		return in, fmt.Errorf("failed to read definition file: %w", err)
	}
	var file definitionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return in, fmt.Errorf("failed to parse definition file: %w", err)
	}
	def, err := scaffold.DecodeDefinition(file.DefinitionData)
	if err != nil {
		return in, fmt.Errorf("invalid definition file: %w", err)
	}
	def.FillDefaults()
	if !def.IsUsable() {
		return in, fmt.Errorf("invalid definition file: role_title or job_summary is required")
	}

	flags := file.ContextFlags
	if flags.RoleFamily == "" {
		flags.RoleFamily = types.RoleFamilyOther
	}
	flags.Seniority = types.NormalizeSeniority(flags.Seniority)

	in.DefinitionData = def
	in.ContextFlags = flags
	in.ClarifierQuestions = file.ClarifierQuestions
	in.Confirmed = true
	return in, nil
}

func readAnswersFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read answers file: %w", err)
	}
	var answers map[string]string
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("answers file must be a JSON object of strings: %w", err)
	}
	return answers, nil
}

func runBuild(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireAPIKey(cfg); err != nil {
		return err
	}
	input, err := readDefinitionFile(buildDefinitionFile)
	if err != nil {
		return err
	}
	if input.ClarifierAnswers, err = readAnswersFile(buildAnswersFile); err != nil {
		return err
	}

	databaseURL := buildDatabaseURL
	if databaseURL == "" {
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL == "" {
		databaseURL = defaultLocalDB
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, closeStore, err := openStore(ctx, databaseURL, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	project, err := buildProject(ctx, store, input.DefinitionData)
	if err != nil {
		return err
	}
	input.ProjectID = project.ID
	rd, err := store.SaveRoleDefinition(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to save role definition: %w", err)
	}

	client, err := newLLMClient(ctx, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create generation client: %w", err)
	}
	defer client.Close()

	builder := scaffold.NewBuilder(client, nil, logger)
	scaffolds := tracker.New(store, builder, trackerOptions(cfg, logger))
	defer scaffolds.Close()

	view, err := scaffolds.BuildSync(ctx, tracker.Request{
		ProjectID:        project.ID,
		RoleDefinitionID: rd.ID,
		Definition:       rd.DefinitionData,
		Flags:            rd.ContextFlags,
		Answers:          rd.ClarifierAnswers,
	}, buildRetry)
	if err != nil {
		return err
	}

	if buildVerbose || cfg.Verbose {
		printer := observability.NewPrinter(cmd.ErrOrStderr())
		printer.PrintDimensionSelection(builder.Plan(rd.DefinitionData, rd.ContextFlags, rd.ClarifierAnswers).Selection)
		printer.PrintScaffold(view)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Project: %s\n", project.ID)

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := writeOutput(cmd.OutOrStdout(), buildOutputFile, data); err != nil {
		return err
	}
	if view.Status == types.StatusFailed {
		return fmt.Errorf("scaffold generation failed: %s (rerun with --project %s --retry)", view.Error, project.ID)
	}
	return nil
}

// buildProject loads --project, or creates a CLI project owned by the nil user.
func buildProject(ctx context.Context, store appStore, def types.RoleDefinitionData) (*types.Project, error) {
	if buildProjectID == "" {
		title := def.RoleTitle
		if title == types.NotSpecified {
			title = "Untitled role"
		}
		project, err := store.CreateProject(ctx, uuid.Nil, title)
		if err != nil {
			return nil, fmt.Errorf("failed to create project: %w", err)
		}
		return project, nil
	}

	id, err := uuid.Parse(buildProjectID)
	if err != nil {
		return nil, fmt.Errorf("invalid --project: %w", err)
	}
	project, err := store.GetProject(ctx, id)
	if errors.Is(err, types.ErrProjectNotFound) {
		return nil, fmt.Errorf("project %s not found", id)
	}
	return project, err
}
