package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/driftd/internal/api"
	"github.com/breeze-rmm/driftd/internal/config"
	"github.com/breeze-rmm/driftd/internal/ingest"
	"github.com/breeze-rmm/driftd/internal/logging"
	"github.com/breeze-rmm/driftd/internal/notify"
	"github.com/breeze-rmm/driftd/internal/store"
	"github.com/breeze-rmm/driftd/internal/workerpool"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "driftd",
	Short: "Breeze drift & integrity server",
	Long:  `driftd ingests configuration snapshots from Breeze agents, detects drift against history and baselines, and emits integrity events`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	Run: func(cmd *cobra.Command, args []string) {
		migrate()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("driftd v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/driftd/driftd.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, nil)
	cfg.Validate()
	return cfg
}

func migrate() {
	cfg := loadConfig()
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	st.Close()
	fmt.Printf("Schema applied to %s\n", cfg.DBPath)
}

func runServer() {
	cfg := loadConfig()
	log := logging.L("main")

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("open store", "path", cfg.DBPath, logging.KeyError, err)
		os.Exit(1)
	}
	defer st.Close()

	hub := api.NewHub()
	resolver := notify.NewResolver(st, cfg.DefaultAlertEmail)
	emitter := ingest.NewEmitter(st, resolver, hub)
	svc := ingest.NewService(st, emitter, ingest.Options{
		ReconcileWindowRows: cfg.ReconcileWindowRows,
		MaxBatchEntries:     cfg.MaxBatchEntries,
		IgnoreRules:         cfg.IgnoreRules,
	})

	pool := workerpool.New(cfg.NotifyWorkers, cfg.NotifyQueueSize)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	if cfg.NotifyWebhookURL != "" {
		sender := notify.NewWebhookSender(cfg.NotifyWebhookURL)
		worker := notify.NewWorker(st, sender, pool, time.Duration(cfg.NotifyIntervalSeconds)*time.Second)
		go worker.Run(workerCtx)
	} else {
		log.Warn("notify_webhook_url not set, queued notifications will not be delivered")
	}

	server := api.NewServer(cfg, st, svc, hub)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	log.Info("driftd started", "version", version, "addr", cfg.ListenAddr, "db", cfg.DBPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", logging.KeyError, err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", logging.KeyError, err)
	}
	stopWorker()
	pool.Drain(shutdownCtx)
	log.Info("driftd stopped")
}
