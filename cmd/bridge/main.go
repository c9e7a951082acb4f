package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/water-meter-bridge/internal/config"
	"github.com/septivank/water-meter-bridge/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lifecycleTimeout = 30 * time.Second

// Version is set via ldflags during build
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Water meter bridge",
	Long: `Accepts water meter readings, stores them locally, forwards a copy to
the backend and pushes a notification when usage goes up.

Runs the HTTP server when no subcommand is given.`,
	Version:      Version,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP bridge (and the queue consumer when RABBITMQ_URL is set)",
	RunE:  runServe,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the abnormal consumption check once and exit",
	RunE:  runSweep,
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loadEnvFile()
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
}

// loadEnvFile looks for a .env file in the working directory and its parents.
// Missing files are fine in containers where the environment is injected.
func loadEnvFile() {
	envPaths := []string{
		".env",
		"../../.env",
	}

	if workDir, err := os.Getwd(); err == nil {
		parentDir := filepath.Dir(workDir)
		grandParentDir := filepath.Dir(parentDir)

		envPaths = append(envPaths,
			filepath.Join(workDir, ".env"),
			filepath.Join(parentDir, ".env"),
			filepath.Join(grandParentDir, ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err == nil {
				absPath, _ := filepath.Abs(envPath)
				fmt.Printf("Loaded environment from: %s\n", absPath)
				return
			}
		}
	}

	fmt.Println("No .env file found, using system environment variables")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	app := fx.New(
		fx.NopLogger,
		coreModule(cfg),
		fx.Invoke(registerMetrics, startHTTPServer, startConsumer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("failed to start within %s, check that the database and RabbitMQ are reachable: %w", lifecycleTimeout, err)
		}
		return err
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	return app.Stop(stopCtx)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var (
		svc    *service.IngestionService
		logger *zap.Logger
	)
	app := fx.New(
		fx.NopLogger,
		coreModule(cfg),
		fx.Populate(&svc, &logger),
	)

	startCtx, startCancel := context.WithTimeout(cmd.Context(), lifecycleTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	result, sweepErr := svc.CheckAbnormal(cmd.Context())

	// stopping drains the dispatcher, so scheduled alerts are delivered
	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("failed to stop cleanly", zap.Error(err))
	}

	if sweepErr != nil {
		return sweepErr
	}

	fmt.Printf("status=%s matched=%d alerts_sent=%d mean=%.2f\n",
		result.Status, result.Matched, result.AlertsSent, result.MeanConsumption)
	return nil
}
