package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	apihttp "github.com/StrawberryAcai/Nomadly.backend/internal/api/http"
	"github.com/StrawberryAcai/Nomadly.backend/internal/app"
	nlog "github.com/StrawberryAcai/Nomadly.backend/internal/log"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, out, closeLog, err := newLogger(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	levelVar := &slog.LevelVar{}
	levelVar.Set(nlog.ParseLevel(cfg.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(out),
		hertzslog.WithLevel(levelVar),
	))

	catalog, err := loadCatalog()
	if err != nil {
		return err
	}
	a, err := app.New(cfg, logger, app.WithCatalog(catalog))
	if err != nil {
		return err
	}
	defer a.Close()

	handler := apihttp.NewHandler(a.Planner(),
		apihttp.WithLogger(logger),
		apihttp.WithRequestTimeout(cfg.Server.RequestTimeout))
	h := apihttp.NewRouter(handler, cfg.Server.CORSOrigins).Build(cfg.Server.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", cfg.Server.Addr(), "cors_origins", cfg.Server.CORSOrigins)
		return h.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return h.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
