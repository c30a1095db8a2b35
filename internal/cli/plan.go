package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/StrawberryAcai/Nomadly.backend/internal/app"
	"github.com/spf13/cobra"
)

var (
	planRequestPath string
	planTimezone    string
)

func init() {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Generate one itinerary and print it",
		Long:  "Generate one itinerary from a JSON request (a file, or - for stdin) and print the repaired plan.",
		Args:  cobra.NoArgs,
		RunE:  runPlan,
	}

	cmd.Flags().StringVarP(&planRequestPath, "request", "r", "", "Plan request JSON file, or - for stdin (required)")
	cmd.Flags().StringVar(&planTimezone, "timezone", "", "IANA timezone of the traveller, e.g. Asia/Seoul")
	_ = cmd.MarkFlagRequired("request")

	RootCmd.AddCommand(cmd)
}

func readPlanRequest(path string, stdin io.Reader) (nomadly.PlanRequest, error) {
	var req nomadly.PlanRequest
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return req, fmt.Errorf("failed to open request: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, fmt.Errorf("failed to decode request: %w", err)
	}
	return req, nil
}

func runPlan(cmd *cobra.Command, args []string) error {
	req, err := readPlanRequest(planRequestPath, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, _, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, logger, app.WithCatalog(catalog))
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.Planner().GeneratePlan(cmd.Context(), req, planTimezone)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}
