package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/versus-control/deployctl/internal/logging"
	"github.com/versus-control/deployctl/pkg/runner"
)

// Docker drives the Docker CLI for image build and publish.
type Docker struct {
	binary     string
	contextDir string
	dockerfile string
	platform   string
	runner     runner.CommandRunner
	logger     *logging.Logger
}

// Options configures the build.
type Options struct {
	Binary     string
	ContextDir string
	Dockerfile string
	Platform   string
}

// New creates a Docker CLI wrapper.
func New(opts Options, cmdRunner runner.CommandRunner, logger *logging.Logger) *Docker {
	if opts.Binary == "" {
		opts.Binary = "docker"
	}
	if opts.ContextDir == "" {
		opts.ContextDir = "."
	}
	return &Docker{
		binary:     opts.Binary,
		contextDir: opts.ContextDir,
		dockerfile: opts.Dockerfile,
		platform:   opts.Platform,
		runner:     cmdRunner,
		logger:     logger,
	}
}

// Login authenticates the local Docker daemon against a registry. The
// password goes through stdin so it never appears in the process table.
func (d *Docker) Login(ctx context.Context, registry, username, password string) error {
	_, err := d.runner.RunWithStdin(ctx, d.contextDir, strings.NewReader(password),
		d.binary, "login", "--username", username, "--password-stdin", registry)
	if err != nil {
		return fmt.Errorf("docker login to %s failed: %w", registry, err)
	}
	d.logger.WithField("registry", registry).Info("Authenticated to container registry")
	return nil
}

// Build builds the application image tagged ref.
func (d *Docker) Build(ctx context.Context, ref string) error {
	args := []string{"build", "--tag", ref}
	if d.platform != "" {
		args = append(args, "--platform", d.platform)
	}
	if d.dockerfile != "" {
		args = append(args, "--file", d.dockerfile)
	}
	args = append(args, ".")

	d.logger.WithField("image", ref).Info("Building container image")
	if _, err := d.runner.Run(ctx, d.contextDir, d.binary, args...); err != nil {
		return fmt.Errorf("docker build failed: %w", err)
	}
	return nil
}

// Tag applies an additional reference to a built image.
func (d *Docker) Tag(ctx context.Context, srcRef, dstRef string) error {
	if _, err := d.runner.Run(ctx, d.contextDir, d.binary, "tag", srcRef, dstRef); err != nil {
		return fmt.Errorf("docker tag %s -> %s failed: %w", srcRef, dstRef, err)
	}
	return nil
}

// Push publishes an image reference.
func (d *Docker) Push(ctx context.Context, ref string) error {
	d.logger.WithField("image", ref).Info("Pushing container image")
	if _, err := d.runner.Run(ctx, d.contextDir, d.binary, "push", ref); err != nil {
		return fmt.Errorf("docker push %s failed: %w", ref, err)
	}
	return nil
}
