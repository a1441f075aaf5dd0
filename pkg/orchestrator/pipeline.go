package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/versus-control/deployctl/internal/config"
	"github.com/versus-control/deployctl/internal/logging"
	awsclient "github.com/versus-control/deployctl/pkg/aws"
	"github.com/versus-control/deployctl/pkg/types"
)

// InfraOutputs resolves the infrastructure parameters a deployment consumes.
// The Terraform wrapper implements it; the stack itself stays opaque.
type InfraOutputs interface {
	Init(ctx context.Context) error
	Apply(ctx context.Context) error
	Outputs(ctx context.Context) (*types.StackOutputs, error)
}

// ImagePublisher builds and publishes the application image.
type ImagePublisher interface {
	Login(ctx context.Context, registry, username, password string) error
	Build(ctx context.Context, ref string) error
	Tag(ctx context.Context, srcRef, dstRef string) error
	Push(ctx context.Context, ref string) error
}

// FleetAPI is the AWS surface the pipeline depends on.
type FleetAPI interface {
	GetAuthToken(ctx context.Context) (*awsclient.RegistryAuth, error)
	EnsureRepository(ctx context.Context, name string) (string, error)
	InServiceInstanceIDs(ctx context.Context, groupName string) ([]string, error)
	RunShellScript(ctx context.Context, instanceIDs []string, script, comment string, timeout time.Duration) (string, error)
	WaitForCommand(ctx context.Context, commandID string, instanceIDs []string, pollEvery, deadline time.Duration) ([]*types.InstanceCommandResult, error)
	DescribeTargetHealth(ctx context.Context, targetGroupARN string) (*awsclient.TargetHealth, error)
}

// HealthValidator validates the deployed application end to end.
type HealthValidator interface {
	Validate(ctx context.Context, endpoint string) (*types.HealthReport, error)
}

// EventFunc receives step transitions for the dashboard.
type EventFunc func(event types.DeploymentEvent)

// Pipeline is the deploy/validate state machine: resolve outputs, publish the
// image, fan out remote execution to the fleet, validate, record.
type Pipeline struct {
	cfg     *config.Config
	infra   InfraOutputs
	images  ImagePublisher
	fleet   FleetAPI
	health  HealthValidator
	history *History
	logger  *logging.Logger
	onEvent EventFunc
}

// NewPipeline wires the pipeline's collaborators.
func NewPipeline(cfg *config.Config, infra InfraOutputs, images ImagePublisher, fleet FleetAPI, health HealthValidator, history *History, logger *logging.Logger) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		infra:   infra,
		images:  images,
		fleet:   fleet,
		health:  health,
		history: history,
		logger:  logger,
	}
}

// OnEvent registers a step-transition callback.
func (p *Pipeline) OnEvent(fn EventFunc) {
	p.onEvent = fn
}

// DeployOptions tunes a single deployment run.
type DeployOptions struct {
	// Tag overrides the generated image tag.
	Tag string
	// SkipBuild dispatches an already-pushed tag without rebuilding.
	SkipBuild bool
	// ApplyInfra runs terraform apply before reading outputs.
	ApplyInfra bool
}

// Deploy runs the full pipeline and records the outcome in history. The
// returned deployment is always populated, also on failure.
func (p *Pipeline) Deploy(ctx context.Context, opts DeployOptions) (*types.Deployment, error) {
	tag := opts.Tag
	if tag == "" {
		tag = time.Now().UTC().Format("20060102-150405")
	}

	deployment := &types.Deployment{
		ID:          uuid.NewString(),
		Project:     p.cfg.Project.Name,
		Environment: p.cfg.Project.Environment,
		ImageTag:    tag,
		Status:      types.DeploymentRunning,
		StartedAt:   time.Now(),
	}

	if last, err := p.history.LastSuccessful(); err != nil {
		return deployment, fmt.Errorf("failed to read deployment history: %w", err)
	} else if last != nil {
		deployment.PreviousImageTag = last.ImageTag
	}

	p.logger.WithDeployment(deployment.ID).WithField("tag", tag).Info("Starting deployment")

	err := p.run(ctx, deployment, opts)

	finished := time.Now()
	deployment.FinishedAt = &finished
	if err != nil {
		deployment.Status = types.DeploymentFailed
		deployment.Error = err.Error()
	} else {
		deployment.Status = types.DeploymentCompleted
	}

	if err != nil && p.cfg.Deploy.RollbackOnFailure && deployment.PreviousImageTag != "" {
		p.logger.WithDeployment(deployment.ID).
			WithField("tag", deployment.PreviousImageTag).
			Warn("Deployment failed, rolling back to previous image")
		if _, rbErr := p.Rollback(ctx); rbErr != nil {
			p.logger.WithError(rbErr).Error("Rollback failed")
		} else {
			deployment.Status = types.DeploymentRolledBack
		}
	}

	if histErr := p.history.Append(deployment); histErr != nil {
		p.logger.WithError(histErr).Error("Failed to record deployment history")
	}

	return deployment, err
}

func (p *Pipeline) run(ctx context.Context, d *types.Deployment, opts DeployOptions) error {
	// Resolve infrastructure parameters
	if err := p.step(ctx, d, "resolve-outputs", func(ctx context.Context) error {
		if opts.ApplyInfra {
			if err := p.infra.Init(ctx); err != nil {
				return err
			}
			if err := p.infra.Apply(ctx); err != nil {
				return err
			}
		}
		outputs, err := p.infra.Outputs(ctx)
		if err != nil {
			return err
		}
		d.Outputs = outputs
		return nil
	}); err != nil {
		return err
	}

	d.ImageURI = fmt.Sprintf("%s:%s", d.Outputs.ECRRepositoryURL, d.ImageTag)

	// Build and publish the artifact
	if opts.SkipBuild {
		p.skip(d, "registry-login")
		p.skip(d, "build-image")
		p.skip(d, "push-image")
	} else {
		if err := p.step(ctx, d, "registry-login", func(ctx context.Context) error {
			if _, err := p.fleet.EnsureRepository(ctx, repositoryName(d.Outputs.ECRRepositoryURL)); err != nil {
				return err
			}
			auth, err := p.fleet.GetAuthToken(ctx)
			if err != nil {
				return err
			}
			return p.images.Login(ctx, auth.Endpoint, auth.Username, auth.Password)
		}); err != nil {
			return err
		}

		if err := p.step(ctx, d, "build-image", func(ctx context.Context) error {
			if err := p.images.Build(ctx, d.ImageURI); err != nil {
				return err
			}
			return p.images.Tag(ctx, d.ImageURI, fmt.Sprintf("%s:latest", d.Outputs.ECRRepositoryURL))
		}); err != nil {
			return err
		}

		if err := p.step(ctx, d, "push-image", func(ctx context.Context) error {
			if err := p.images.Push(ctx, d.ImageURI); err != nil {
				return err
			}
			return p.images.Push(ctx, fmt.Sprintf("%s:latest", d.Outputs.ECRRepositoryURL))
		}); err != nil {
			return err
		}
	}

	// Discover the fleet
	if err := p.step(ctx, d, "discover-fleet", func(ctx context.Context) error {
		instances, err := p.discoverFleet(ctx, d.Outputs.AutoScalingGroup)
		if err != nil {
			return err
		}
		d.Instances = instances
		return nil
	}); err != nil {
		return err
	}

	// Fan out remote execution and wait for completion
	if err := p.step(ctx, d, "dispatch-fleet", func(ctx context.Context) error {
		return p.dispatch(ctx, d, d.ImageTag)
	}); err != nil {
		return err
	}

	// Validate the result
	return p.step(ctx, d, "validate-health", func(ctx context.Context) error {
		return p.validate(ctx, d)
	})
}

// discoverFleet resolves in-service instance IDs, retrying on empty results
// because group membership lags scale events.
func (p *Pipeline) discoverFleet(ctx context.Context, groupName string) ([]string, error) {
	if groupName == "" {
		groupName = p.cfg.Deploy.AutoScalingGroup
	}
	if groupName == "" {
		return nil, fmt.Errorf("no auto scaling group configured")
	}

	for attempt := 0; ; attempt++ {
		ids, err := p.fleet.InServiceInstanceIDs(ctx, groupName)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			return ids, nil
		}
		if attempt >= p.cfg.Deploy.DiscoveryRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.cfg.Deploy.DiscoveryInterval):
		}
	}

	return nil, fmt.Errorf("auto scaling group %s has no in-service instances", groupName)
}

// dispatch renders the remote script pinned to tag and runs it fleet-wide.
func (p *Pipeline) dispatch(ctx context.Context, d *types.Deployment, tag string) error {
	script, err := RenderRemoteScript(RemoteParams{
		Project:     d.Project,
		ServiceName: p.cfg.Deploy.ServiceName,
		Region:      d.Outputs.RegionOrDefault(p.cfg.AWS.Region),
		Registry:    registryHost(d.Outputs.ECRRepositoryURL),
		ImageURI:    fmt.Sprintf("%s:%s", d.Outputs.ECRRepositoryURL, tag),
		Port:        p.cfg.Deploy.ContainerPort,
	})
	if err != nil {
		return err
	}

	comment := fmt.Sprintf("deployctl %s/%s %s", d.Project, d.Environment, tag)
	commandID, err := p.fleet.RunShellScript(ctx, d.Instances, script, comment, p.cfg.Deploy.CommandTimeout)
	if err != nil {
		return err
	}

	results, err := p.fleet.WaitForCommand(ctx, commandID, d.Instances,
		p.cfg.Deploy.CommandPollEvery, p.cfg.Deploy.CommandTimeout)
	if err != nil {
		for _, r := range results {
			if !r.Succeeded() {
				p.logger.WithDeployment(d.ID).
					WithField("instance", r.InstanceID).
					WithField("status", r.Status).
					Error("Remote execution did not succeed")
			}
		}
		return err
	}
	return nil
}

// validate checks the load balancer health endpoint and, when a target group
// is known, cross-checks ELB target health. Both must pass.
func (p *Pipeline) validate(ctx context.Context, d *types.Deployment) error {
	endpoint := fmt.Sprintf("http://%s%s", d.Outputs.ALBDNSName, p.cfg.Deploy.HealthPath)
	report, err := p.health.Validate(ctx, endpoint)
	if err != nil {
		return err
	}

	if d.Outputs.TargetGroupARN != "" {
		targets, err := p.fleet.DescribeTargetHealth(ctx, d.Outputs.TargetGroupARN)
		if err != nil {
			return err
		}
		report.HealthyTargets = targets.Healthy
		report.UnhealthyTargets = targets.Unhealthy
		if len(targets.Unhealthy) > 0 {
			return fmt.Errorf("%d target(s) unhealthy after deployment: %s",
				len(targets.Unhealthy), strings.Join(targets.Unhealthy, ", "))
		}
	}
	return nil
}

// step runs one pipeline stage, recording status, duration, and events.
func (p *Pipeline) step(ctx context.Context, d *types.Deployment, name string, fn func(ctx context.Context) error) error {
	started := time.Now()
	s := &types.Step{Name: name, Status: types.StepRunning, StartedAt: &started}
	d.Steps = append(d.Steps, s)
	p.emit(d, name, types.StepRunning, "")

	err := fn(ctx)

	finished := time.Now()
	s.FinishedAt = &finished
	p.logger.LogStep(d.ID, name, finished.Sub(started), err)

	if err != nil {
		s.Status = types.StepFailed
		s.Error = err.Error()
		p.emit(d, name, types.StepFailed, err.Error())
		return fmt.Errorf("step %s: %w", name, err)
	}

	s.Status = types.StepCompleted
	p.emit(d, name, types.StepCompleted, "")
	return nil
}

// skip records a step that will not run this deployment.
func (p *Pipeline) skip(d *types.Deployment, name string) {
	d.Steps = append(d.Steps, &types.Step{Name: name, Status: types.StepSkipped})
	p.emit(d, name, types.StepSkipped, "")
}

func (p *Pipeline) emit(d *types.Deployment, step, status, message string) {
	if p.onEvent == nil {
		return
	}
	p.onEvent(types.DeploymentEvent{
		DeploymentID: d.ID,
		Step:         step,
		Status:       status,
		Message:      message,
		Timestamp:    time.Now(),
	})
}

// registryHost strips the repository path off an ECR repository URL.
func registryHost(repositoryURL string) string {
	if i := strings.Index(repositoryURL, "/"); i > 0 {
		return repositoryURL[:i]
	}
	return repositoryURL
}

// repositoryName is the path component of an ECR repository URL.
func repositoryName(repositoryURL string) string {
	if i := strings.Index(repositoryURL, "/"); i > 0 {
		return repositoryURL[i+1:]
	}
	return repositoryURL
}
