package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/versus-control/deployctl/pkg/types"
)

// Rollback re-dispatches the fleet pinned to the last successfully deployed
// image tag and re-validates. Nothing is rebuilt: the tag is immutable and
// already in the registry.
func (p *Pipeline) Rollback(ctx context.Context) (*types.Deployment, error) {
	last, err := p.history.LastSuccessful()
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment history: %w", err)
	}
	if last == nil {
		return nil, fmt.Errorf("no successful deployment to roll back to")
	}

	deployment := &types.Deployment{
		ID:          uuid.NewString(),
		Project:     p.cfg.Project.Name,
		Environment: p.cfg.Project.Environment,
		ImageTag:    last.ImageTag,
		Status:      types.DeploymentRunning,
		StartedAt:   time.Now(),
	}

	p.logger.WithDeployment(deployment.ID).
		WithField("tag", last.ImageTag).
		Info("Rolling back to previous image")

	runErr := p.runRollback(ctx, deployment)

	finished := time.Now()
	deployment.FinishedAt = &finished
	if runErr != nil {
		deployment.Status = types.DeploymentFailed
		deployment.Error = runErr.Error()
	} else {
		deployment.Status = types.DeploymentCompleted
	}

	if histErr := p.history.Append(deployment); histErr != nil {
		p.logger.WithError(histErr).Error("Failed to record rollback in history")
	}

	return deployment, runErr
}

func (p *Pipeline) runRollback(ctx context.Context, d *types.Deployment) error {
	if err := p.step(ctx, d, "resolve-outputs", func(ctx context.Context) error {
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

	if err := p.step(ctx, d, "dispatch-fleet", func(ctx context.Context) error {
		return p.dispatch(ctx, d, d.ImageTag)
	}); err != nil {
		return err
	}

	return p.step(ctx, d, "validate-health", func(ctx context.Context) error {
		return p.validate(ctx, d)
	})
}
