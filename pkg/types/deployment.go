package types

import (
	"time"
)

// Deployment status values
const (
	DeploymentPending    = "pending"
	DeploymentRunning    = "running"
	DeploymentCompleted  = "completed"
	DeploymentFailed     = "failed"
	DeploymentRolledBack = "rolled_back"
)

// Step status values, shared with the dashboard
const (
	StepPending   = "pending"
	StepRunning   = "running"
	StepCompleted = "completed"
	StepFailed    = "failed"
	StepSkipped   = "skipped"
)

// Deployment represents a single end-to-end deployment run
type Deployment struct {
	ID               string        `json:"id"`
	Project          string        `json:"project"`
	Environment      string        `json:"environment"`
	ImageTag         string        `json:"imageTag"`
	ImageURI         string        `json:"imageUri,omitempty"`
	PreviousImageTag string        `json:"previousImageTag,omitempty"`
	Status           string        `json:"status"`
	Steps            []*Step       `json:"steps"`
	Outputs          *StackOutputs `json:"outputs,omitempty"`
	Instances        []string      `json:"instances,omitempty"`
	StartedAt        time.Time     `json:"startedAt"`
	FinishedAt       *time.Time    `json:"finishedAt,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// Step represents one stage of the deployment pipeline
type Step struct {
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Duration returns how long the step ran, zero if it never finished.
func (s *Step) Duration() time.Duration {
	if s.StartedAt == nil || s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(*s.StartedAt)
}

// StackOutputs carries the Terraform outputs the deployment consumes
type StackOutputs struct {
	ALBDNSName       string `json:"albDnsName"`
	AutoScalingGroup string `json:"autoScalingGroup"`
	ECRRepositoryURL string `json:"ecrRepositoryUrl"`
	TargetGroupARN   string `json:"targetGroupArn,omitempty"`
	S3Bucket         string `json:"s3Bucket,omitempty"`
	Region           string `json:"region,omitempty"`
}

// RegionOrDefault returns the stack's region output, falling back to def.
func (o *StackOutputs) RegionOrDefault(def string) string {
	if o.Region != "" {
		return o.Region
	}
	return def
}

// InstanceCommandResult is the terminal state of one SSM command invocation
type InstanceCommandResult struct {
	InstanceID string `json:"instanceId"`
	Status     string `json:"status"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// Succeeded reports whether the invocation reached the Success terminal state.
func (r *InstanceCommandResult) Succeeded() bool {
	return r.Status == "Success"
}

// HealthReport summarizes deployment validation
type HealthReport struct {
	Healthy          bool      `json:"healthy"`
	Attempts         int       `json:"attempts"`
	Endpoint         string    `json:"endpoint"`
	HealthyTargets   []string  `json:"healthyTargets,omitempty"`
	UnhealthyTargets []string  `json:"unhealthyTargets,omitempty"`
	CheckedAt        time.Time `json:"checkedAt"`
}

// AWSResource represents AWS infrastructure resources surfaced by discovery
type AWSResource struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Region   string                 `json:"region"`
	State    string                 `json:"state"`
	Tags     map[string]string      `json:"tags,omitempty"`
	Details  map[string]interface{} `json:"details"`
	LastSeen time.Time              `json:"lastSeen"`
}

// DeploymentEvent is broadcast to dashboard clients on every step transition
type DeploymentEvent struct {
	DeploymentID string    `json:"deploymentId"`
	Step         string    `json:"step"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
