package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/role-audition/internal/client"
	"github.com/jonathan/role-audition/internal/types"
	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Start or resume a project's audition and wait for it",
	Long:  "Start (or resume) generation of a project's audition scaffold through the API and poll until it is READY or FAILED, printing progress.",
	RunE:  runPoll,
}

var (
	pollAPI      string
	pollToken    string
	pollProject  string
	pollInterval time.Duration
	pollTimeout  time.Duration
)

const progressBarWidth = 30

func init() {
	pollCmd.Flags().StringVar(&pollAPI, "api", "http://localhost:8080", "Base URL of the audition API")
	pollCmd.Flags().StringVar(&pollToken, "token", "", "Bearer token (default AUDITION_TOKEN)")
	pollCmd.Flags().StringVar(&pollProject, "project", "", "Project id (required)")
	pollCmd.Flags().DurationVar(&pollInterval, "interval", client.DefaultPollInterval, "Wait between polls")
	pollCmd.Flags().DurationVar(&pollTimeout, "timeout", 15*time.Minute, "Give up after this long")
	_ = pollCmd.MarkFlagRequired("project")

	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, _ []string) error {
	projectID, err := uuid.Parse(pollProject)
	if err != nil {
		return fmt.Errorf("invalid --project: %w", err)
	}
	token := pollToken
	if token == "" {
		token = os.Getenv("AUDITION_TOKEN")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	c := client.New(pollAPI, token, client.WithPollInterval(pollInterval))
	if _, err := c.StartAudition(ctx, projectID); err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	view, err := c.WaitForAudition(ctx, projectID, func(v *types.AuditionScaffold, percent float64) {
		printProgress(stderr, percent, v.EstimatedRemainingMinutes)
	})
	fmt.Fprintln(stderr)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := writeOutput(cmd.OutOrStdout(), "", data); err != nil {
		return err
	}
	if view.Status == types.StatusFailed {
		return fmt.Errorf("scaffold generation failed: %s", view.Error)
	}
	return nil
}

func printProgress(w io.Writer, percent, remaining float64) {
	filled := int(percent / 100 * progressBarWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(".", progressBarWidth-filled)
	fmt.Fprintf(w, "\r[%s] %3.0f%%  ~%.1f min left", bar, percent, remaining)
}
