package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/versus-control/deployctl/pkg/types"

	"github.com/sirupsen/logrus"
)

// ========== Systems Manager Methods ==========

// ssmAPI is the Systems Manager surface the client depends on.
type ssmAPI interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
}

// RunShellScript dispatches a shell script to a set of instances via the
// AWS-RunShellScript document and returns the command ID.
func (c *Client) RunShellScript(ctx context.Context, instanceIDs []string, script, comment string, timeout time.Duration) (string, error) {
	if len(instanceIDs) == 0 {
		return "", fmt.Errorf("no instances to run command on")
	}

	input := &ssm.SendCommandInput{
		DocumentName: aws.String("AWS-RunShellScript"),
		InstanceIds:  instanceIDs,
		Comment:      aws.String(comment),
		Parameters: map[string][]string{
			"commands": {script},
		},
		TimeoutSeconds: aws.Int32(int32(timeout.Seconds())),
	}

	result, err := c.ssm.SendCommand(ctx, input)
	if err != nil {
		return "", fmt.Errorf("failed to send SSM command: %w", err)
	}

	commandID := aws.ToString(result.Command.CommandId)
	c.logger.WithFields(logrus.Fields{
		"commandId": commandID,
		"instances": len(instanceIDs),
	}).Info("SSM command dispatched")

	return commandID, nil
}

// WaitForCommand polls each instance's command invocation until every one
// reaches a terminal state or the deadline passes. Invocations that do not
// exist yet are treated as still propagating.
func (c *Client) WaitForCommand(ctx context.Context, commandID string, instanceIDs []string, pollEvery, deadline time.Duration) ([]*types.InstanceCommandResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	pending := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		pending[id] = true
	}
	results := make(map[string]*types.InstanceCommandResult, len(instanceIDs))

	for len(pending) > 0 {
		for instanceID := range pending {
			out, err := c.ssm.GetCommandInvocation(waitCtx, &ssm.GetCommandInvocationInput{
				CommandId:  aws.String(commandID),
				InstanceId: aws.String(instanceID),
			})
			if err != nil {
				var notYet *ssmtypes.InvocationDoesNotExist
				if errors.As(err, &notYet) {
					// The invocation record lags SendCommand
					continue
				}
				return collect(instanceIDs, results), fmt.Errorf("failed to get command invocation for %s: %w", instanceID, err)
			}

			switch out.Status {
			case ssmtypes.CommandInvocationStatusSuccess,
				ssmtypes.CommandInvocationStatusFailed,
				ssmtypes.CommandInvocationStatusTimedOut,
				ssmtypes.CommandInvocationStatusCancelled:
				results[instanceID] = &types.InstanceCommandResult{
					InstanceID: instanceID,
					Status:     string(out.Status),
					Stdout:     aws.ToString(out.StandardOutputContent),
					Stderr:     aws.ToString(out.StandardErrorContent),
				}
				delete(pending, instanceID)
			}
		}

		if len(pending) == 0 {
			break
		}

		select {
		case <-waitCtx.Done():
			return collect(instanceIDs, results), fmt.Errorf("timed out waiting for command %s on %d instance(s): %w",
				commandID, len(pending), waitCtx.Err())
		case <-time.After(pollEvery):
		}
	}

	final := collect(instanceIDs, results)
	for _, r := range final {
		if !r.Succeeded() {
			return final, fmt.Errorf("command %s failed on instance %s with status %s", commandID, r.InstanceID, r.Status)
		}
	}

	return final, nil
}

// collect orders results by the original instance list, filling in unresolved
// instances with an InProgress placeholder.
func collect(instanceIDs []string, results map[string]*types.InstanceCommandResult) []*types.InstanceCommandResult {
	out := make([]*types.InstanceCommandResult, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		if r, ok := results[id]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, &types.InstanceCommandResult{
			InstanceID: id,
			Status:     string(ssmtypes.CommandInvocationStatusInProgress),
		})
	}
	return out
}
