package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/versus-control/deployctl/internal/config"
	"github.com/versus-control/deployctl/internal/logging"
	awsclient "github.com/versus-control/deployctl/pkg/aws"
	"github.com/versus-control/deployctl/pkg/docker"
	"github.com/versus-control/deployctl/pkg/health"
	"github.com/versus-control/deployctl/pkg/orchestrator"
	"github.com/versus-control/deployctl/pkg/runner"
	"github.com/versus-control/deployctl/pkg/terraform"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &cli.Command{
		Name:  "deployctl",
		Usage: "Deploy the containerized application onto the AWS fleet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "override the configured AWS region",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
		},
		Commands: []*cli.Command{
			deployCommand(),
			rollbackCommand(),
			statusCommand(),
			fleetCommand(),
			scaleCommand(),
			healthCommand(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env bundles the wired collaborators every command needs.
type env struct {
	cfg      *config.Config
	logger   *logging.Logger
	aws      *awsclient.Client
	pipeline *orchestrator.Pipeline
	history  *orchestrator.History
}

// setup loads config and wires the pipeline.
func setup(cmd *cli.Command) (*env, error) {
	cfg, err := config.LoadFile(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if region := cmd.String("region"); region != "" {
		cfg.AWS.Region = region
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	aws, err := awsclient.NewClient(cfg.AWS.Region, cfg.AWS.Profile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AWS client: %w", err)
	}

	cmdRunner := runner.NewExecRunner(logger)
	infra := terraform.New(cfg.Terraform.Binary, cfg.Terraform.Dir, cmdRunner, logger)
	images := docker.New(docker.Options{
		Binary:     cfg.Docker.Binary,
		ContextDir: cfg.Docker.ContextDir,
		Dockerfile: cfg.Docker.Dockerfile,
		Platform:   cfg.Docker.Platform,
	}, cmdRunner, logger)
	checker := health.NewChecker(cfg.Deploy.HealthInterval, cfg.Deploy.HealthRetries, logger)
	history := orchestrator.NewHistory(cfg.GetStateFilePath(), cfg.State.BackupEnabled, cfg.State.BackupDir)

	pipeline := orchestrator.NewPipeline(cfg, infra, images, aws, checker, history, logger)

	return &env{
		cfg:      cfg,
		logger:   logger,
		aws:      aws,
		pipeline: pipeline,
		history:  history,
	}, nil
}

func deployCommand() *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "build, publish, and roll the image out to the fleet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "tag",
				Usage: "image tag to deploy (default: UTC timestamp)",
			},
			&cli.BoolFlag{
				Name:  "skip-build",
				Usage: "dispatch an already-pushed tag without rebuilding",
			},
			&cli.BoolFlag{
				Name:  "apply",
				Usage: "run terraform apply before reading outputs",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			if err := e.aws.HealthCheck(ctx); err != nil {
				return err
			}
			if account, err := e.aws.AccountID(ctx); err == nil {
				e.logger.WithField("account", account).Info("AWS credentials verified")
			}

			deployment, err := e.pipeline.Deploy(ctx, orchestrator.DeployOptions{
				Tag:        cmd.String("tag"),
				SkipBuild:  cmd.Bool("skip-build"),
				ApplyInfra: cmd.Bool("apply"),
			})
			if deployment != nil {
				printJSON(deployment)
			}
			return err
		},
	}
}

func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "re-dispatch the last successfully deployed image",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			deployment, err := e.pipeline.Rollback(ctx)
			if deployment != nil {
				printJSON(deployment)
			}
			return err
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show recorded deployments, newest last",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "show at most N deployments",
				Value: 10,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			deployments, err := e.history.Load()
			if err != nil {
				return err
			}
			limit := int(cmd.Int("limit"))
			if limit > 0 && len(deployments) > limit {
				deployments = deployments[len(deployments)-limit:]
			}
			printJSON(deployments)
			return nil
		},
	}
}

func fleetCommand() *cli.Command {
	return &cli.Command{
		Name:  "fleet",
		Usage: "list in-service instances of the target Auto Scaling Group",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "tag",
				Usage: "list running instances by tag (KEY=VALUE) instead of group membership",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}

			if tag := cmd.String("tag"); tag != "" {
				key, value, ok := strings.Cut(tag, "=")
				if !ok || key == "" {
					return fmt.Errorf("invalid tag filter %q, expected KEY=VALUE", tag)
				}
				instances, err := e.aws.DescribeInstancesByTag(ctx, key, value,
					e.cfg.Deploy.DiscoveryRetries, e.cfg.Deploy.DiscoveryInterval)
				if err != nil {
					return err
				}
				printJSON(instances)
				return nil
			}

			group := e.cfg.Deploy.AutoScalingGroup
			if group == "" {
				return fmt.Errorf("no Auto Scaling Group configured")
			}
			ids, err := e.aws.InServiceInstanceIDs(ctx, group)
			if err != nil {
				return err
			}
			printJSON(map[string]interface{}{"autoScalingGroup": group, "instances": ids})
			return nil
		},
	}
}

func scaleCommand() *cli.Command {
	return &cli.Command{
		Name:  "scale",
		Usage: "set the desired capacity of the target Auto Scaling Group",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:     "capacity",
				Usage:    "desired instance count",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			group := e.cfg.Deploy.AutoScalingGroup
			if group == "" {
				return fmt.Errorf("no Auto Scaling Group configured")
			}
			return e.aws.UpdateDesiredCapacity(ctx, group, int32(cmd.Int("capacity")))
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "run a one-shot health validation against the load balancer",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}

			cmdRunner := runner.NewExecRunner(e.logger)
			infra := terraform.New(e.cfg.Terraform.Binary, e.cfg.Terraform.Dir, cmdRunner, e.logger)
			outputs, err := infra.Outputs(ctx)
			if err != nil {
				return err
			}

			checker := health.NewChecker(e.cfg.Deploy.HealthInterval, e.cfg.Deploy.HealthRetries, e.logger)
			endpoint := fmt.Sprintf("http://%s%s", outputs.ALBDNSName, e.cfg.Deploy.HealthPath)
			report, err := checker.Validate(ctx, endpoint)
			if report != nil {
				printJSON(report)
			}
			return err
		},
	}
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(data))
}
