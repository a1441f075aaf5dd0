package aws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/deployctl/internal/logging"
)

// invocationResult scripts one GetCommandInvocation response.
type invocationResult struct {
	status ssmtypes.CommandInvocationStatus
	err    error
}

type fakeSSM struct {
	mu      sync.Mutex
	sends   []*ssm.SendCommandInput
	scripts map[string][]invocationResult
}

func (f *fakeSSM) SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, params)
	return &ssm.SendCommandOutput{
		Command: &ssmtypes.Command{CommandId: aws.String("cmd-0001")},
	}, nil
}

func (f *fakeSSM) GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(params.InstanceId)
	seq := f.scripts[id]
	if len(seq) == 0 {
		return &ssm.GetCommandInvocationOutput{Status: ssmtypes.CommandInvocationStatusInProgress}, nil
	}

	next := seq[0]
	if len(seq) > 1 {
		f.scripts[id] = seq[1:]
	}
	if next.err != nil {
		return nil, next.err
	}
	return &ssm.GetCommandInvocationOutput{
		Status:                next.status,
		StandardOutputContent: aws.String("ok"),
		StandardErrorContent:  aws.String(""),
	}, nil
}

func newTestSSMClient(fake *fakeSSM) *Client {
	return &Client{ssm: fake, logger: logging.NewLogger("error", "text")}
}

func TestRunShellScriptSendsDocument(t *testing.T) {
	fake := &fakeSSM{scripts: map[string][]invocationResult{}}
	c := newTestSSMClient(fake)

	id, err := c.RunShellScript(context.Background(), []string{"i-aaa", "i-bbb"},
		"#!/bin/bash\necho hi\n", "deployctl shop/production v42", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "cmd-0001", id)

	require.Len(t, fake.sends, 1)
	sent := fake.sends[0]
	assert.Equal(t, "AWS-RunShellScript", aws.ToString(sent.DocumentName))
	assert.Equal(t, []string{"i-aaa", "i-bbb"}, sent.InstanceIds)
	assert.Equal(t, []string{"#!/bin/bash\necho hi\n"}, sent.Parameters["commands"])
	assert.Equal(t, int32(60), aws.ToInt32(sent.TimeoutSeconds))
}

func TestRunShellScriptRequiresInstances(t *testing.T) {
	c := newTestSSMClient(&fakeSSM{scripts: map[string][]invocationResult{}})

	_, err := c.RunShellScript(context.Background(), nil, "echo hi", "", time.Minute)
	require.Error(t, err)
}

func TestWaitForCommandToleratesPropagationLag(t *testing.T) {
	fake := &fakeSSM{scripts: map[string][]invocationResult{
		// The invocation record is not visible on the first poll
		"i-aaa": {
			{err: &ssmtypes.InvocationDoesNotExist{}},
			{status: ssmtypes.CommandInvocationStatusSuccess},
		},
		"i-bbb": {
			{status: ssmtypes.CommandInvocationStatusSuccess},
		},
	}}
	c := newTestSSMClient(fake)

	results, err := c.WaitForCommand(context.Background(), "cmd-0001",
		[]string{"i-aaa", "i-bbb"}, time.Millisecond, time.Second)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "i-aaa", results[0].InstanceID)
	assert.True(t, results[0].Succeeded())
	assert.Equal(t, "i-bbb", results[1].InstanceID)
	assert.True(t, results[1].Succeeded())
}

func TestWaitForCommandFailsOnNonSuccessTerminalState(t *testing.T) {
	fake := &fakeSSM{scripts: map[string][]invocationResult{
		"i-aaa": {{status: ssmtypes.CommandInvocationStatusSuccess}},
		"i-bbb": {
			{status: ssmtypes.CommandInvocationStatusInProgress},
			{status: ssmtypes.CommandInvocationStatusFailed},
		},
	}}
	c := newTestSSMClient(fake)

	results, err := c.WaitForCommand(context.Background(), "cmd-0001",
		[]string{"i-aaa", "i-bbb"}, time.Millisecond, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "i-bbb")
	assert.Contains(t, err.Error(), "Failed")

	// Per-instance results are still reported in input order
	require.Len(t, results, 2)
	assert.Equal(t, "Success", results[0].Status)
	assert.Equal(t, "Failed", results[1].Status)
}

func TestWaitForCommandDeadline(t *testing.T) {
	// No script entries: the instance never leaves InProgress
	fake := &fakeSSM{scripts: map[string][]invocationResult{}}
	c := newTestSSMClient(fake)

	results, err := c.WaitForCommand(context.Background(), "cmd-0001",
		[]string{"i-aaa"}, time.Millisecond, 30*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	require.Len(t, results, 1)
	assert.Equal(t, "i-aaa", results[0].InstanceID)
	assert.False(t, results[0].Succeeded())
}
