package main

import (
	"encoding/json"
	"fmt"

	"github.com/jonathan/role-audition/internal/dimensions"
	"github.com/jonathan/role-audition/internal/observability"
	"github.com/jonathan/role-audition/internal/types"
	"github.com/spf13/cobra"
)

var dimensionsCmd = &cobra.Command{
	Use:   "dimensions",
	Short: "Show which audition dimensions a role would be tested on",
	RunE:  runDimensions,
}

var (
	dimFamily        string
	dimSeniority     string
	dimStartup       bool
	dimPeopleManager bool
	dimJSON          bool
	dimListFamilies  bool
)

func init() {
	dimensionsCmd.Flags().StringVar(&dimFamily, "family", "", "Role family, e.g. \"Software Engineering\"")
	dimensionsCmd.Flags().StringVar(&dimSeniority, "seniority", "", "Seniority: Junior, Senior, Manager")
	dimensionsCmd.Flags().BoolVar(&dimStartup, "startup", false, "Startup context")
	dimensionsCmd.Flags().BoolVar(&dimPeopleManager, "people-manager", false, "Role manages people")
	dimensionsCmd.Flags().BoolVar(&dimJSON, "json", false, "Print the selection as JSON")
	dimensionsCmd.Flags().BoolVar(&dimListFamilies, "list-families", false, "List the known role families")

	rootCmd.AddCommand(dimensionsCmd)
}

func runDimensions(cmd *cobra.Command, _ []string) error {
	table := dimensions.DefaultTable()
	out := cmd.OutOrStdout()

	if dimListFamilies {
		for _, f := range table.Families() {
			fmt.Fprintln(out, f)
		}
		return nil
	}

	family := dimFamily
	if name, ok := table.CanonicalName(family); ok {
		family = name
	} else {
		family = types.RoleFamilyOther
	}
	sel := dimensions.NewSelector(table).Select(types.RoleContextFlags{
		RoleFamily:         family,
		Seniority:          types.NormalizeSeniority(dimSeniority),
		IsStartupContext:   dimStartup,
		IsPeopleManagement: dimPeopleManager,
	})

	if dimJSON {
		data, err := json.MarshalIndent(sel, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		return writeOutput(out, "", data)
	}
	observability.NewPrinter(out).PrintDimensionSelection(sel)
	return nil
}
