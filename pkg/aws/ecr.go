package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

// ========== ECR Methods ==========

// RegistryAuth carries decoded ECR credentials for docker login
type RegistryAuth struct {
	Username string
	Password string
	Endpoint string
}

// GetAuthToken fetches and decodes an ECR authorization token. The token is
// base64 "user:password"; the user is always AWS for ECR.
func (c *Client) GetAuthToken(ctx context.Context) (*RegistryAuth, error) {
	result, err := c.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(result.AuthorizationData) == 0 {
		return nil, fmt.Errorf("ECR returned no authorization data")
	}

	data := result.AuthorizationData[0]
	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ECR authorization token: %w", err)
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed ECR authorization token")
	}

	endpoint := strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://")

	c.logger.WithField("registry", endpoint).Debug("Obtained ECR authorization token")

	return &RegistryAuth{
		Username: parts[0],
		Password: parts[1],
		Endpoint: endpoint,
	}, nil
}

// EnsureRepository returns the repository URI, creating the repository when it
// does not exist yet.
func (c *Client) EnsureRepository(ctx context.Context, name string) (string, error) {
	describe, err := c.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err == nil && len(describe.Repositories) > 0 {
		return aws.ToString(describe.Repositories[0].RepositoryUri), nil
	}

	var notFound *ecrtypes.RepositoryNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return "", fmt.Errorf("failed to describe ECR repository %s: %w", name, err)
	}

	created, err := c.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create ECR repository %s: %w", name, err)
	}

	c.logger.WithField("repository", name).Info("ECR repository created")
	return aws.ToString(created.Repository.RepositoryUri), nil
}
