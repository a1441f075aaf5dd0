package terraform

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/deployctl/internal/logging"
	"github.com/versus-control/deployctl/pkg/runner"
)

const outputJSON = `{
  "alb_dns_name": {"sensitive": false, "type": "string", "value": "shop-alb-123.us-east-1.elb.amazonaws.com"},
  "asg_name": {"sensitive": false, "type": "string", "value": "shop-asg"},
  "ecr_repository_url": {"sensitive": false, "type": "string", "value": "123456789012.dkr.ecr.us-east-1.amazonaws.com/shop"},
  "target_group_arn": {"sensitive": false, "type": "string", "value": "arn:aws:elasticloadbalancing:us-east-1:123456789012:targetgroup/shop/abc"},
  "s3_bucket_name": {"sensitive": false, "type": "string", "value": "shop-assets"},
  "aws_region": {"sensitive": false, "type": "string", "value": "us-east-1"}
}`

func newTestTerraform(rec *runner.RecordingRunner) *Terraform {
	logger := logging.NewLogger("error", "text")
	return New("terraform", "/stacks/shop", rec, logger)
}

func TestOutputsParsesStack(t *testing.T) {
	rec := runner.NewRecordingRunner()
	rec.Respond("output -json", []byte(outputJSON))

	tf := newTestTerraform(rec)
	outputs, err := tf.Outputs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "shop-alb-123.us-east-1.elb.amazonaws.com", outputs.ALBDNSName)
	assert.Equal(t, "shop-asg", outputs.AutoScalingGroup)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/shop", outputs.ECRRepositoryURL)
	assert.Equal(t, "shop-assets", outputs.S3Bucket)
	assert.Equal(t, "us-east-1", outputs.Region)

	invs := rec.Invocations()
	require.Len(t, invs, 1)
	assert.Equal(t, "/stacks/shop", invs[0].Dir)
	assert.Equal(t, "terraform output -json", invs[0].Command())
}

func TestOutputsMissingRequiredKey(t *testing.T) {
	rec := runner.NewRecordingRunner()
	rec.Respond("output -json", []byte(`{"alb_dns_name": {"value": "x"}}`))

	tf := newTestTerraform(rec)
	_, err := tf.Outputs(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required key")
}

func TestOutputsRejectsNonJSON(t *testing.T) {
	rec := runner.NewRecordingRunner()
	rec.Respond("output -json", []byte("warning: something went sideways"))

	tf := newTestTerraform(rec)
	_, err := tf.Outputs(context.Background())
	require.Error(t, err)
}

func TestInitAndApplyArguments(t *testing.T) {
	rec := runner.NewRecordingRunner()
	tf := newTestTerraform(rec)

	require.NoError(t, tf.Init(context.Background()))
	require.NoError(t, tf.Apply(context.Background()))

	lines := rec.CommandLines()
	require.Len(t, lines, 2)
	assert.Equal(t, "terraform init -input=false", lines[0])
	assert.Equal(t, "terraform apply -auto-approve -input=false", lines[1])
}
