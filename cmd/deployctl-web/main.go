package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/versus-control/deployctl/internal/config"
	"github.com/versus-control/deployctl/internal/logging"
	awsclient "github.com/versus-control/deployctl/pkg/aws"
	"github.com/versus-control/deployctl/pkg/docker"
	"github.com/versus-control/deployctl/pkg/health"
	"github.com/versus-control/deployctl/pkg/orchestrator"
	"github.com/versus-control/deployctl/pkg/runner"
	"github.com/versus-control/deployctl/pkg/terraform"
	"github.com/versus-control/deployctl/pkg/web"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup logging using config
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("Starting deployctl dashboard")

	// Initialize AWS client
	awsClient, err := awsclient.NewClient(cfg.AWS.Region, cfg.AWS.Profile, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create AWS client")
	}

	history := orchestrator.NewHistory(cfg.GetStateFilePath(), cfg.State.BackupEnabled, cfg.State.BackupDir)

	// Wire the pipeline so dashboard clients can trigger deployments and
	// follow step events over the websocket
	cmdRunner := runner.NewExecRunner(logger)
	infra := terraform.New(cfg.Terraform.Binary, cfg.Terraform.Dir, cmdRunner, logger)
	images := docker.New(docker.Options{
		Binary:     cfg.Docker.Binary,
		ContextDir: cfg.Docker.ContextDir,
		Dockerfile: cfg.Docker.Dockerfile,
		Platform:   cfg.Docker.Platform,
	}, cmdRunner, logger)
	checker := health.NewChecker(cfg.Deploy.HealthInterval, cfg.Deploy.HealthRetries, logger)
	pipeline := orchestrator.NewPipeline(cfg, infra, images, awsClient, checker, history, logger)

	// Create web server with shared infrastructure
	webServer := web.NewWebServer(cfg, awsClient, history, pipeline, logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, stopping server...")
		cancel()
	}()

	logger.WithField("port", cfg.Web.Port).Info("Starting dashboard server")
	fmt.Printf("Dashboard: http://%s:%d/api/deployments\n", cfg.Web.Host, cfg.Web.Port)

	// Start server in a goroutine
	serverErr := make(chan error, 1)
	go func() {
		if err := webServer.Start(cfg.Web.Port); err != nil {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.WithError(err).Fatal("Dashboard server failed")
	case <-ctx.Done():
		logger.Info("Dashboard server shutdown complete")
	}
}
