package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	autoscalingtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"

	"github.com/versus-control/deployctl/pkg/types"

	"github.com/sirupsen/logrus"
)

// ========== Auto Scaling Group Methods ==========

// GetAutoScalingGroup gets a specific Auto Scaling Group by name
func (c *Client) GetAutoScalingGroup(ctx context.Context, groupName string) (*types.AWSResource, error) {
	result, err := c.autoscaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{groupName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe Auto Scaling Group %s: %w", groupName, err)
	}

	if len(result.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("auto scaling group %s not found", groupName)
	}

	return c.convertAutoScalingGroup(result.AutoScalingGroups[0]), nil
}

// InServiceInstanceIDs returns the IDs of instances currently in service in
// the group. ASG membership is eventually consistent after scale events, so
// callers retry on empty results.
func (c *Client) InServiceInstanceIDs(ctx context.Context, groupName string) ([]string, error) {
	result, err := c.autoscaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{groupName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe Auto Scaling Group %s: %w", groupName, err)
	}
	if len(result.AutoScalingGroups) == 0 {
		return nil, fmt.Errorf("auto scaling group %s not found", groupName)
	}

	var instanceIDs []string
	for _, instance := range result.AutoScalingGroups[0].Instances {
		if instance.LifecycleState == autoscalingtypes.LifecycleStateInService && instance.InstanceId != nil {
			instanceIDs = append(instanceIDs, *instance.InstanceId)
		}
	}

	c.logger.WithFields(logrus.Fields{
		"asgName":   groupName,
		"inService": len(instanceIDs),
	}).Debug("Resolved in-service instances")

	return instanceIDs, nil
}

// UpdateDesiredCapacity updates the desired capacity of an auto scaling group
func (c *Client) UpdateDesiredCapacity(ctx context.Context, asgName string, desiredCapacity int32) error {
	input := &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(asgName),
		DesiredCapacity:      aws.Int32(desiredCapacity),
	}

	_, err := c.autoscaling.UpdateAutoScalingGroup(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to update auto scaling group: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"asgName":         asgName,
		"desiredCapacity": desiredCapacity,
	}).Info("Auto Scaling Group updated successfully")

	return nil
}

// convertAutoScalingGroup converts an Auto Scaling Group to our internal resource representation
func (c *Client) convertAutoScalingGroup(asg autoscalingtypes.AutoScalingGroup) *types.AWSResource {
	tags := make(map[string]string)
	for _, tag := range asg.Tags {
		if tag.Key != nil && tag.Value != nil {
			tags[*tag.Key] = *tag.Value
		}
	}

	// Extract instance IDs
	var instanceIds []string
	for _, instance := range asg.Instances {
		if instance.InstanceId != nil {
			instanceIds = append(instanceIds, *instance.InstanceId)
		}
	}

	details := map[string]interface{}{
		"minSize":                aws.ToInt32(asg.MinSize),
		"maxSize":                aws.ToInt32(asg.MaxSize),
		"desiredCapacity":        aws.ToInt32(asg.DesiredCapacity),
		"healthCheckType":        aws.ToString(asg.HealthCheckType),
		"healthCheckGracePeriod": aws.ToInt32(asg.HealthCheckGracePeriod),
		"vpcZoneIdentifier":      aws.ToString(asg.VPCZoneIdentifier),
		"targetGroupARNs":        asg.TargetGroupARNs,
		"instances":              instanceIds,
		"availabilityZones":      asg.AvailabilityZones,
	}

	return &types.AWSResource{
		ID:       aws.ToString(asg.AutoScalingGroupName),
		Type:     "auto-scaling-group",
		Region:   c.cfg.Region,
		State:    "active", // ASGs don't have a state field like EC2
		Tags:     tags,
		Details:  details,
		LastSeen: time.Now(),
	}
}
