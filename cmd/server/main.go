package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pokerjest/animeSourceHub/internal/api"
	"github.com/pokerjest/animeSourceHub/internal/config"
	"github.com/pokerjest/animeSourceHub/internal/db"
	"github.com/pokerjest/animeSourceHub/internal/logging"
	"github.com/pokerjest/animeSourceHub/internal/scheduler"
	"github.com/pokerjest/animeSourceHub/internal/worker"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:          "animeSourceHub",
	Short:        "Resolve ranked, deduplicated playable sources for anime episodes",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadConfig(configDir); err != nil {
			return err
		}
		logging.Setup(config.AppConfig.Log)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge cached results and overrides older than --days",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		a := newApp(config.AppConfig)
		defer db.CloseDB()

		report, err := a.svc.Cleanup(cmd.Context(), days)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d cached results, %d overrides\n", report.Removed, report.OverridesRemoved)
		return nil
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers and their last known health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(config.AppConfig)
		defer db.CloseDB()

		for _, h := range a.svc.ProviderStatus() {
			state := lo.Ternary(h.Degraded, "degraded", "ok")
			if !h.Enabled {
				state = "disabled"
			}
			fmt.Printf("%-12s %-9s failures=%d last_error=%s\n", h.Provider, state, h.ConsecutiveFailures, h.LastErrorKind)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "directory containing config.yaml")
	cleanupCmd.Flags().Int("days", 7, "purge entries older than this many days")
	rootCmd.AddCommand(cleanupCmd, providersCmd)
}

func serve() error {
	cfg := config.AppConfig
	log := logging.For("main")

	gin.SetMode(cfg.Server.Mode)

	// 转换为绝对路径日志一下
	absPath, _ := filepath.Abs(cfg.Database.Path)
	log.Infof("Initializing database at: %s", absPath)

	a := newApp(cfg)
	defer db.CloseDB()

	r := gin.New()
	r.Use(gin.Recovery(), logging.GinLogger())
	api.InitRoutes(r, api.NewHandler(a.svc, a.bus, cfg.Scheduler.CleanupDays))

	sch := scheduler.NewManager(cfg.Scheduler.Interval, cfg.Scheduler.CleanupDays, a.cleanup, a.agg.Health(), a.store)
	sch.Start()
	defer sch.Stop()

	stopWorker := worker.StartHealthWorker(a.bus, a.agg.Health(), a.store)
	defer stopWorker()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
