package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/app"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
)

var (
	configDir string
	configID  string
	logger    *slog.Logger

	scanAccount     string
	scanFull        bool
	scanMaxMessages int
	scanDaysBack    int
)

var rootCmd = &cobra.Command{
	Use:   "invoice-scanner",
	Short: "Invoice mailbox scanning service",
	Long: `A service that scans IMAP mailboxes for invoice documents and hands
PDF candidates to the downstream document processor.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scanning service",
	Long:  `Runs scheduled mailbox scans for the enabled configuration profiles until interrupted.`,
	RunE:  runServe,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one batch scan and exit",
	Long:  `Scans every enabled account once, or a single account with --account.`,
	RunE:  runScan,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Plain logger until configurations decide the real one.
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cobra.OnInitialize(loadEnv)

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "./config", "configuration directory")
	rootCmd.PersistentFlags().StringVar(&configID, "config-id", "", "run only this configuration profile")
	rootCmd.PersistentFlags().String("log-level", "", "override logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "override logging format (text, json, pretty)")

	viper.SetEnvPrefix("INVOICE_SCANNER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	scanCmd.Flags().StringVar(&scanAccount, "account", "", "scan a single account id")
	scanCmd.Flags().BoolVar(&scanFull, "full", false, "force a full resynchronization (requires --account)")
	scanCmd.Flags().IntVar(&scanMaxMessages, "max-messages", 0, "cap messages per account for this run")
	scanCmd.Flags().IntVar(&scanDaysBack, "days-back", 0, "override the full sync date window in days")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(newOAuth2Command())
}

// loadEnv seeds the process environment from a .env file when one is
// present. Config files reference secrets as ${VAR}.
func loadEnv() {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded environment from .env")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	application, err := app.New(logger, configDir, configID)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	logger = application.Logger()

	if err := application.Start(); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}
	defer application.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFull && scanAccount == "" {
		return fmt.Errorf("--full requires --account")
	}

	application, err := app.New(logger, configDir, configID)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	logger = application.Logger()

	if err := application.Open(); err != nil {
		return err
	}
	defer application.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	req := models.ScanRequest{
		AccountID:   scanAccount,
		MaxMessages: scanMaxMessages,
		DaysBack:    scanDaysBack,
	}
	if scanFull {
		req.ScanType = "full"
	}

	results, err := application.Scan(ctx, req)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		logScanResult(results[id])
	}
	return nil
}

func logScanResult(result models.ScanResult) {
	logger.Info("scan result",
		"account_id", result.AccountID,
		"checked", result.TotalChecked,
		"new_messages", result.NewMessages,
		"pdfs_found", result.PdfsFound,
		"pdfs_processed", result.PdfsProcessed,
		"strategies", result.StrategiesUsed,
		"errors", len(result.Errors),
		"duration_seconds", result.DurationSeconds,
	)
	for _, msg := range result.Errors {
		logger.Warn("scan error", "account_id", result.AccountID, "detail", msg)
	}
}
