package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testRemoteParams() RemoteParams {
	return RemoteParams{
		Project:     "shop",
		ServiceName: "web",
		Region:      "us-east-1",
		Registry:    "123456789012.dkr.ecr.us-east-1.amazonaws.com",
		ImageURI:    "123456789012.dkr.ecr.us-east-1.amazonaws.com/shop:v42",
		Port:        5000,
	}
}

func TestRenderComposeIsValidYAML(t *testing.T) {
	out, err := RenderCompose(testRemoteParams())
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))

	services, ok := doc["services"].(map[string]interface{})
	require.True(t, ok, "compose document must have services")

	web, ok := services["web"].(map[string]interface{})
	require.True(t, ok, "service name must come from params")

	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com/shop:v42", web["image"])
	assert.Equal(t, "always", web["restart"])
	assert.Equal(t, "shop-web", web["container_name"])

	ports, ok := web["ports"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "80:5000", ports[0])
}

func TestRenderRemoteScript(t *testing.T) {
	script, err := RenderRemoteScript(testRemoteParams())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(script, "#!/bin/bash"), "script must have a shebang")
	assert.Contains(t, script, "set -euo pipefail")
	assert.Contains(t, script, "aws ecr get-login-password --region us-east-1")
	assert.Contains(t, script, "docker login --username AWS --password-stdin 123456789012.dkr.ecr.us-east-1.amazonaws.com")
	assert.Contains(t, script, "/opt/shop")
	assert.Contains(t, script, "docker compose -f \"$COMPOSE_FILE\" pull")
	assert.Contains(t, script, "docker compose -f \"$COMPOSE_FILE\" up -d --remove-orphans")

	// The compose document is embedded with the pinned tag
	assert.Contains(t, script, "shop:v42")

	// No registry credentials travel with the script
	assert.NotContains(t, script, "password-stdin\n123456789012")
}

func TestRenderRemoteScriptTerminatesHeredoc(t *testing.T) {
	script, err := RenderRemoteScript(testRemoteParams())
	require.NoError(t, err)

	open := strings.Index(script, "<<'COMPOSE'")
	require.Greater(t, open, 0)
	closing := strings.Index(script[open:], "\nCOMPOSE\n")
	assert.Greater(t, closing, 0, "compose heredoc must be terminated")
}
