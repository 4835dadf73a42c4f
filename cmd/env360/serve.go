// Copyright Contributors to the env360 project

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/env360/env360/internal/authn"
	"github.com/env360/env360/internal/config"
	"github.com/env360/env360/internal/crypt"
	"github.com/env360/env360/internal/deployworkflow"
	"github.com/env360/env360/internal/httpapi"
	"github.com/env360/env360/internal/k8sgateway"
	"github.com/env360/env360/internal/permission"
	"github.com/env360/env360/internal/scheduler"
	"github.com/env360/env360/internal/store"
	"github.com/env360/env360/internal/store/postgres"
	"github.com/env360/env360/internal/subdomainworkflow"
	"github.com/env360/env360/internal/workflow"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("address", ":8080", "The address the HTTP server binds to")
	serveCmd.Flags().String("dsn", "", "Postgres connection string (defaults to $DATABASE_URL)")
	serveCmd.Flags().Int("queue-capacity", 0, "Max workflow instances running concurrently (0 = default)")
	serveCmd.Flags().String("sweep-interval", "@every 30s", "robfig/cron schedule for the dispatcher's crash-recovery sweep")
	serveCmd.Flags().String("redis-addr", "", "Redis address (host:port) backing workflow events/streams; unset keeps events/streams on Postgres, the right choice for a single dispatcher replica")
}

var serveCmd = &cobra.Command{
	Use: "serve",
	Short: "Run the dispatcher and the health/status HTTP surface",
	Long: `serve wires the full core together: Store, Encryptor, Permission
Evaluator, K8s Gateway, Workflow Engine (with deploy_workflow and
setup_env_subdomain registered), Scheduler/Dispatcher, and the
illustrative httpapi health/status surface, then blocks until an
interrupt or terminate signal arrives.`,
	RunE: runServe,
}

// logger is this package's named zap/logr logger, matching the
// package-level logger every other internal/* package declares
// (internal/workflow/workflow.go, internal/deployworkflow/deployworkflow.go,
// and so on).
var logger = zapr.NewLogger(zap.L()).WithName("cmd")

func runServe(cmd *cobra.Command, _ []string) error {
	settings, err := config.Load()
	if err != nil {
		return err
	}

	dsn, _ := cmd.Flags().GetString("dsn")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := postgres.Open(ctx, dsn)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	encryptor, err := crypt.New(settings.SecretsEncryptionKey)
	if err != nil {
		return err
	}

	evaluator := permission.New(st, settings)
	gateway := k8sgateway.New(encryptor)
	resolver := authn.New(st, settings)

	var wfStore store.WorkflowStore = st
	if redisAddr, _ := cmd.Flags().GetString("redis-addr"); redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer redisClient.Close()
		wfStore = workflow.NewRedisEventStore(st, redisClient)
		logger.Info("workflow events/streams backed by redis", "addr", redisAddr)
	}

	engine := workflow.New(wfStore)
	deployworkflow.New(st, gateway).Register(engine)
	subdomainworkflow.New(st, gateway).Register(engine)

	capacity, _ := cmd.Flags().GetInt("queue-capacity")
	dispatcher := scheduler.New(engine, wfStore, settings, capacity)
	sweepInterval, _ := cmd.Flags().GetString("sweep-interval")
	if err := dispatcher.StartSweep(sweepInterval); err != nil {
		return err
	}
	defer dispatcher.StopSweep()

	server := httpapi.New(st, evaluator, resolver, func() error {
		readyCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		_, err := st.ListProjects(readyCtx)
		return err
	})

	address, _ := cmd.Flags().GetString("address")
	httpServer := &http.Server{
		Addr: address,
		Handler: server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting env360", "address", address, "queue", dispatcher.Queue)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}
