// Package cli implements the nomadly commands.
package cli

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/StrawberryAcai/Nomadly.backend/internal/config"
	nlog "github.com/StrawberryAcai/Nomadly.backend/internal/log"
	"github.com/StrawberryAcai/Nomadly.backend/internal/tools"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	catalogPath string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:          "nomadly",
	Short:        "Travel itinerary planner backed by a language model and the Korean tour-data API",
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (environment and .env are always read)")
	RootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Tool catalog YAML (default: embedded catalog)")
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

func loadCatalog() (*tools.Catalog, error) {
	if catalogPath == "" {
		return tools.Default()
	}
	return tools.LoadFile(catalogPath)
}

// newLogger builds the configured logger. Without a log file it writes to
// fallback. The returned writer is the one the logger uses.
func newLogger(cfg *config.Config, fallback io.Writer) (*slog.Logger, io.Writer, func() error, error) {
	if cfg.Log.File == "" {
		return nlog.New(cfg.Log, fallback), fallback, func() error { return nil }, nil
	}
	w, closeFn, err := nlog.Output(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	return nlog.New(cfg.Log, w), w, closeFn, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
