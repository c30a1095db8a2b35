package cli

import (
	"encoding/json"
	"fmt"

	nomadly "github.com/StrawberryAcai/Nomadly.backend"
	"github.com/StrawberryAcai/Nomadly.backend/internal/app"
	"github.com/spf13/cobra"
)

var (
	toolsNamesOnly bool

	fetchArgs  string
	fetchPages int
)

func init() {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool definitions offered to the model",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	toolsCmd.Flags().BoolVar(&toolsNamesOnly, "names", false, "Print tool names only")

	fetchCmd := &cobra.Command{
		Use:   "fetch [tool]",
		Short: "Call one tour-data tool directly",
		Long:  "Call one tour-data tool with JSON arguments. With --pages the list is walked page by page and the items are printed.",
		Args:  cobra.ExactArgs(1),
		RunE:  runFetch,
	}
	fetchCmd.Flags().StringVarP(&fetchArgs, "args", "a", "{}", "Tool arguments as a JSON object")
	fetchCmd.Flags().IntVarP(&fetchPages, "pages", "p", 0, "Walk up to this many pages (0 fetches a single response)")

	RootCmd.AddCommand(toolsCmd, fetchCmd)
}

func newToolbox(cmd *cobra.Command) (*app.Toolbox, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, _, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	catalog, err := loadCatalog()
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	tb, err := app.NewToolbox(cfg, logger, catalog)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return tb, closeLog, nil
}

func runTools(cmd *cobra.Command, args []string) error {
	tb, closeLog, err := newToolbox(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	if toolsNamesOnly {
		for _, spec := range tb.Specs() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", spec.Name, spec.Path)
		}
		return nil
	}
	return printJSON(cmd.OutOrStdout(), tb.Definitions())
}

func runFetch(cmd *cobra.Command, args []string) error {
	var toolArgs map[string]interface{}
	if err := json.Unmarshal([]byte(fetchArgs), &toolArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	tb, closeLog, err := newToolbox(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	exec, err := tb.NewExecutor(cmd.Context())
	if err != nil {
		return nomadly.NewConfigurationError("cannot open tour-data client", err)
	}
	defer exec.Close()

	if fetchPages > 0 {
		items, err := exec.RunPaged(cmd.Context(), args[0], toolArgs, fetchPages)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), items)
	}

	resp, err := exec.Dispatch(cmd.Context(), args[0], toolArgs)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}
