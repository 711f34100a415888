package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/wordcast/internal/config"
	"github.com/dgnsrekt/wordcast/internal/server"
	"github.com/dgnsrekt/wordcast/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the word streaming server",
	Long:    paragraph(fmt.Sprintf("\n%s words to listeners over websockets, with a synchronous HTTP fallback, health and metrics.", keyword("Stream"))),
	Example: paragraph("wordcast serve\nwordcast serve --listen :9000 --engine mock"),
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, log.Default())
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "address to listen on")
	_ = viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
}

func runServer(ctx context.Context, logger *log.Logger) error {
	tel, err := telemetry.New(ctx, config.AppName, Version, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	b, err := openBackend(logger, tel)
	if err != nil {
		return err
	}
	defer b.Close() //nolint:errcheck

	if err := tel.ObserveCacheSize(func() int64 { return int64(b.store.Len()) }); err != nil {
		logger.Warn("Could not register cache gauge", "err", err)
	}

	composer, decorator := newComposer(ctx, logger)
	logger.Info("Unit store ready", "stats", b.store.Stats().String())

	srv := server.New(server.Config{
		Addr:      cfg.Listen,
		Resolver:  b.generator,
		Engine:    b.synth.Name(),
		Composer:  composer,
		Decorator: decorator,
		Store:     b.store,
		Telemetry: tel,
		Logger:    logger,
	})
	return srv.Run(ctx)
}
