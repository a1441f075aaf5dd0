package orchestrator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// RemoteParams feeds the remote execution script rendered for SSM dispatch.
type RemoteParams struct {
	Project     string
	ServiceName string
	Region      string
	Registry    string
	ImageURI    string
	Port        int
}

// composeFile mirrors the docker-compose document written onto each instance.
type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name"`
	Restart       string            `yaml:"restart"`
	Ports         []string          `yaml:"ports"`
	EnvFile       []string          `yaml:"env_file,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Healthcheck   *composeHealth    `yaml:"healthcheck,omitempty"`
}

type composeHealth struct {
	Test     []string `yaml:"test"`
	Interval string   `yaml:"interval"`
	Timeout  string   `yaml:"timeout"`
	Retries  int      `yaml:"retries"`
}

// remoteScript is what every fleet instance runs. Instances authenticate to
// ECR with their instance profile, so no credentials travel with the script.
var remoteScript = template.Must(template.New("remote").Parse(`#!/bin/bash
set -euo pipefail

APP_DIR=/opt/{{.Project}}
COMPOSE_FILE="$APP_DIR/docker-compose.yml"

aws ecr get-login-password --region {{.Region}} | docker login --username AWS --password-stdin {{.Registry}}

mkdir -p "$APP_DIR"
cat > "$COMPOSE_FILE" <<'COMPOSE'
{{.ComposeYAML}}COMPOSE

docker compose -f "$COMPOSE_FILE" pull
docker compose -f "$COMPOSE_FILE" up -d --remove-orphans
docker image prune -f >/dev/null 2>&1
`))

// RenderCompose produces the docker-compose document pinned to an image.
func RenderCompose(p RemoteParams) (string, error) {
	doc := composeFile{
		Services: map[string]composeService{
			p.ServiceName: {
				Image:         p.ImageURI,
				ContainerName: fmt.Sprintf("%s-%s", p.Project, p.ServiceName),
				Restart:       "always",
				Ports:         []string{fmt.Sprintf("80:%d", p.Port)},
				EnvFile:       []string{".env"},
				Healthcheck: &composeHealth{
					Test:     []string{"CMD-SHELL", fmt.Sprintf("curl -sf http://localhost:%d/health || exit 1", p.Port)},
					Interval: "30s",
					Timeout:  "5s",
					Retries:  3,
				},
			},
		},
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to render compose file: %w", err)
	}
	return string(out), nil
}

// RenderRemoteScript produces the shell script dispatched over SSM. The image
// tag is pinned inside the compose document, never resolved on the instance.
func RenderRemoteScript(p RemoteParams) (string, error) {
	composeYAML, err := RenderCompose(p)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(composeYAML, "\n") {
		composeYAML += "\n"
	}

	data := struct {
		RemoteParams
		ComposeYAML string
	}{RemoteParams: p, ComposeYAML: composeYAML}

	var buf bytes.Buffer
	if err := remoteScript.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render remote script: %w", err)
	}
	return buf.String(), nil
}
