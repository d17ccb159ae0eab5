package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgerun/forge/pkg/api"
	"github.com/forgerun/forge/pkg/config"
	"github.com/forgerun/forge/pkg/domain"
	"github.com/forgerun/forge/pkg/ids"
	"github.com/forgerun/forge/pkg/logging"
	"github.com/forgerun/forge/pkg/orchestrator"
	"github.com/forgerun/forge/pkg/runtime"
	"github.com/forgerun/forge/pkg/version"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the orchestrator daemon",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemon(); err != nil {
			die(exitCodeInternal, "daemon exited", err)
		}
	},
}

// orchestratorAdapter satisfies pkg/api.GoalOrchestrator by converting
// pkg/orchestrator.Result's concrete type to the struct pkg/api
// declares, so pkg/api needn't import pkg/orchestrator.
type orchestratorAdapter struct {
	orch *orchestrator.Orchestrator
}

func (a orchestratorAdapter) Orchestrate(ctx context.Context, goal domain.Goal) (api.OrchestrateResult, error) {
	result, err := a.orch.Orchestrate(ctx, goal)
	return api.OrchestrateResult{GoalID: result.GoalID, Status: result.Status}, err
}

func (a orchestratorAdapter) Cancel(goalID ids.GoalID) error {
	return a.orch.Cancel(goalID)
}

// runDaemon wires a Runtime, starts its background loops, and serves
// the HTTP facade until SIGINT/SIGTERM, grounded on
// firestige-Otus/cmd/daemon.go's signal-driven graceful-shutdown loop
// (translated from that daemon's UDS server to this one's HTTP server).
func runDaemon() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Initialize(ctx, orchConfig)
	if err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}
	if orchDataDir != "" {
		cfg.DataDir = orchDataDir
	}
	if orchLogLvl != "" {
		cfg.LogLevel = orchLogLvl
	}

	if err := logging.Init(cfg.DataDir, cfg.LogLevel); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	slog.Info("starting forge", "version", version.Full(), "port", orchPort, "data_dir", cfg.DataDir)

	rt, err := runtime.New(ctx, cfg, runtime.DockerHost(os.Getenv("DOCKER_HOST")))
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}

	server := api.NewServer(orchestratorAdapter{rt.Orchestrator}, rt.Scheduler, rt.Agents, rt.Monitor)
	rt.BindGoalSource(server)

	rt.Start(ctx)
	server.MarkReady()

	httpServer := &http.Server{
		Addr:    ":" + orchPort,
		Handler: server.Routes(),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		_ = sig
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	rt.Stop()
	cancel()
	return nil
}
