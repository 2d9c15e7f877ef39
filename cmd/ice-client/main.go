package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openimmunize/iceclient/internal/config"
	"github.com/openimmunize/iceclient/internal/forecast"
	"github.com/openimmunize/iceclient/internal/platform/dss"
	"github.com/openimmunize/iceclient/internal/platform/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ice-client",
		Short: "Client for the ICE immunization decision-support service",
	}
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func newService(cfg *config.Config, logger zerolog.Logger) *forecast.Service {
	client := dss.NewClient(cfg.Endpoint,
		dss.WithTimeout(cfg.HTTPTimeout),
		dss.WithBasicAuth(cfg.Username, cfg.Password),
	)
	return forecast.NewService(client,
		forecast.WithWorkers(cfg.Workers),
		forecast.WithLogger(logger),
	)
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate a record file and write the updated records",
		RunE: func(cmd *cobra.Command, args []string) error {
			inPath, _ := cmd.Flags().GetString("in")
			outPath, _ := cmd.Flags().GetString("out")
			if inPath == "" {
				return fmt.Errorf("--in is required")
			}
			if outPath == "" {
				outPath = inPath + ".out"
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)
			svc := newService(cfg, logger)

			failed, err := svc.RunFile(cmd.Context(), inPath, outPath)
			if err != nil {
				return err
			}
			if failed > 0 {
				logger.Warn().Int("failed", failed).Str("out", outPath).Msg("run finished with failed records")
				return fmt.Errorf("%d record(s) failed", failed)
			}
			logger.Info().Str("out", outPath).Msg("run finished")
			return nil
		},
	}
	cmd.Flags().String("in", "", "Input record file (web-client JSON array)")
	cmd.Flags().String("out", "", "Output file (defaults to <in>.out)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the evaluate endpoint over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)
			svc := newService(cfg, logger)

			e := server.New(svc, logger)

			// Graceful shutdown
			go func() {
				addr := ":" + cfg.Port
				logger.Info().Str("addr", addr).Str("endpoint", cfg.Endpoint).Msg("starting server")
				if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server error")
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			logger.Info().Msg("shutting down server")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(ctx); err != nil {
				logger.Fatal().Err(err).Msg("server shutdown failed")
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
}
