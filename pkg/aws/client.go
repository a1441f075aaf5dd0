package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/versus-control/deployctl/internal/logging"
)

type Client struct {
	cfg         aws.Config
	ec2         *ec2.Client
	autoscaling *autoscaling.Client
	elbv2       *elasticloadbalancingv2.Client
	ecr         *ecr.Client
	ssm         ssmAPI
	sts         *sts.Client
	logger      *logging.Logger
}

func NewClient(region, profile string, logger *logging.Logger) (*Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Client{
		cfg:         cfg,
		ec2:         ec2.NewFromConfig(cfg),
		autoscaling: autoscaling.NewFromConfig(cfg),
		elbv2:       elasticloadbalancingv2.NewFromConfig(cfg),
		ecr:         ecr.NewFromConfig(cfg),
		ssm:         ssm.NewFromConfig(cfg),
		sts:         sts.NewFromConfig(cfg),
		logger:      logger,
	}, nil
}

// HealthCheck verifies AWS connectivity and credentials
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("AWS health check failed: %w", err)
	}
	return nil
}

// AccountID returns the AWS account the credentials belong to
func (c *Client) AccountID(ctx context.Context) (string, error) {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

// GetRegion returns the configured AWS region
func (c *Client) GetRegion() string {
	return c.cfg.Region
}
