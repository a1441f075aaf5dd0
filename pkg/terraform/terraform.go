package terraform

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/versus-control/deployctl/internal/logging"
	"github.com/versus-control/deployctl/pkg/runner"
	"github.com/versus-control/deployctl/pkg/types"
)

// Terraform drives the Terraform CLI for an already-written stack. The stack
// itself is opaque; only its outputs matter to the deployment.
type Terraform struct {
	binary string
	dir    string
	runner runner.CommandRunner
	logger *logging.Logger
}

// New creates a Terraform wrapper rooted at dir.
func New(binary, dir string, cmdRunner runner.CommandRunner, logger *logging.Logger) *Terraform {
	if binary == "" {
		binary = "terraform"
	}
	return &Terraform{
		binary: binary,
		dir:    dir,
		runner: cmdRunner,
		logger: logger,
	}
}

// Init runs terraform init. Safe to run repeatedly.
func (t *Terraform) Init(ctx context.Context) error {
	if _, err := t.runner.Run(ctx, t.dir, t.binary, "init", "-input=false"); err != nil {
		return fmt.Errorf("terraform init failed: %w", err)
	}
	return nil
}

// Apply runs terraform apply without prompting.
func (t *Terraform) Apply(ctx context.Context) error {
	t.logger.WithField("dir", t.dir).Info("Applying Terraform stack")
	if _, err := t.runner.Run(ctx, t.dir, t.binary, "apply", "-auto-approve", "-input=false"); err != nil {
		return fmt.Errorf("terraform apply failed: %w", err)
	}
	return nil
}

// Outputs reads the stack outputs the deployment consumes.
func (t *Terraform) Outputs(ctx context.Context) (*types.StackOutputs, error) {
	raw, err := t.runner.Run(ctx, t.dir, t.binary, "output", "-json")
	if err != nil {
		return nil, fmt.Errorf("terraform output failed: %w", err)
	}

	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("terraform output is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)

	outputs := &types.StackOutputs{
		ALBDNSName:       doc.Get("alb_dns_name.value").String(),
		AutoScalingGroup: doc.Get("asg_name.value").String(),
		ECRRepositoryURL: doc.Get("ecr_repository_url.value").String(),
		TargetGroupARN:   doc.Get("target_group_arn.value").String(),
		S3Bucket:         doc.Get("s3_bucket_name.value").String(),
		Region:           doc.Get("aws_region.value").String(),
	}

	for key, value := range map[string]string{
		"alb_dns_name":       outputs.ALBDNSName,
		"asg_name":           outputs.AutoScalingGroup,
		"ecr_repository_url": outputs.ECRRepositoryURL,
	} {
		if value == "" {
			return nil, fmt.Errorf("terraform output missing required key %q", key)
		}
	}

	t.logger.WithField("asg", outputs.AutoScalingGroup).Debug("Resolved Terraform outputs")
	return outputs, nil
}
