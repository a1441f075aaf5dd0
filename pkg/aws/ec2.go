package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/versus-control/deployctl/pkg/types"

	"github.com/sirupsen/logrus"
)

// ========== EC2 Instance Methods ==========

// DescribeInstancesByTag returns running instances matching a tag. Tag queries
// are eventually consistent, so an empty result is retried up to retries times
// with a fixed interval before being returned as-is.
func (c *Client) DescribeInstancesByTag(ctx context.Context, key, value string, retries int, interval time.Duration) ([]*types.AWSResource, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			{
				Name:   aws.String(fmt.Sprintf("tag:%s", key)),
				Values: []string{value},
			},
			{
				Name:   aws.String("instance-state-name"),
				Values: []string{"running"},
			},
		},
	}

	var resources []*types.AWSResource
	for attempt := 0; ; attempt++ {
		result, err := c.ec2.DescribeInstances(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to describe instances by tag %s=%s: %w", key, value, err)
		}

		resources = resources[:0]
		for _, reservation := range result.Reservations {
			for _, instance := range reservation.Instances {
				resources = append(resources, c.convertEC2Instance(instance))
			}
		}

		if len(resources) > 0 || attempt >= retries {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"tag":     fmt.Sprintf("%s=%s", key, value),
			"attempt": attempt + 1,
		}).Debug("Tag query returned no instances, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return resources, nil
}

// GetEC2Instance gets a specific EC2 instance by ID
func (c *Client) GetEC2Instance(ctx context.Context, instanceID string) (*types.AWSResource, error) {
	result, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe instance %s: %w", instanceID, err)
	}

	if len(result.Reservations) == 0 || len(result.Reservations[0].Instances) == 0 {
		return nil, fmt.Errorf("instance %s not found", instanceID)
	}

	return c.convertEC2Instance(result.Reservations[0].Instances[0]), nil
}

// convertEC2Instance converts an EC2 instance to our internal resource representation
func (c *Client) convertEC2Instance(instance ec2types.Instance) *types.AWSResource {
	tags := make(map[string]string)
	for _, tag := range instance.Tags {
		if tag.Key != nil && tag.Value != nil {
			tags[*tag.Key] = *tag.Value
		}
	}

	details := map[string]interface{}{
		"instanceType":     string(instance.InstanceType),
		"imageId":          aws.ToString(instance.ImageId),
		"launchTime":       instance.LaunchTime,
		"privateIpAddress": aws.ToString(instance.PrivateIpAddress),
		"publicIpAddress":  aws.ToString(instance.PublicIpAddress),
		"subnetId":         aws.ToString(instance.SubnetId),
		"vpcId":            aws.ToString(instance.VpcId),
	}

	if instance.Placement != nil {
		details["availabilityZone"] = aws.ToString(instance.Placement.AvailabilityZone)
	}

	return &types.AWSResource{
		ID:       aws.ToString(instance.InstanceId),
		Type:     "instance",
		Region:   c.cfg.Region,
		State:    string(instance.State.Name),
		Tags:     tags,
		Details:  details,
		LastSeen: time.Now(),
	}
}
