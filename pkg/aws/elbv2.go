package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/sirupsen/logrus"
)

// ========== Load Balancer Methods ==========

// TargetHealth splits a target group's registered targets by health state
type TargetHealth struct {
	Healthy   []string
	Unhealthy []string
}

// DescribeTargetHealth summarizes target health for a target group
func (c *Client) DescribeTargetHealth(ctx context.Context, targetGroupARN string) (*TargetHealth, error) {
	result, err := c.elbv2.DescribeTargetHealth(ctx, &elasticloadbalancingv2.DescribeTargetHealthInput{
		TargetGroupArn: aws.String(targetGroupARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe target health for %s: %w", targetGroupARN, err)
	}

	health := &TargetHealth{}
	for _, desc := range result.TargetHealthDescriptions {
		if desc.Target == nil || desc.Target.Id == nil {
			continue
		}
		id := *desc.Target.Id
		if desc.TargetHealth != nil && desc.TargetHealth.State == elbv2types.TargetHealthStateEnumHealthy {
			health.Healthy = append(health.Healthy, id)
		} else {
			health.Unhealthy = append(health.Unhealthy, id)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"targetGroup": targetGroupARN,
		"healthy":     len(health.Healthy),
		"unhealthy":   len(health.Unhealthy),
	}).Debug("Described target health")

	return health, nil
}
