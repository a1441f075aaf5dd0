package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/deployctl/internal/config"
	"github.com/versus-control/deployctl/internal/logging"
	"github.com/versus-control/deployctl/pkg/orchestrator"
	"github.com/versus-control/deployctl/pkg/types"
)

func newTestServer(t *testing.T) (*WebServer, *orchestrator.History) {
	t.Helper()
	srv, history := newTestServerWithDeployer(t, nil)
	return srv, history
}

func newTestServerWithDeployer(t *testing.T, deployer Deployer) (*WebServer, *orchestrator.History) {
	t.Helper()
	history := orchestrator.NewHistory(filepath.Join(t.TempDir(), "deployments.state"), false, "")
	cfg := &config.Config{
		Web: config.WebConfig{Host: "localhost", Port: 0, EnableWebSockets: true},
	}
	logger := logging.NewLogger("error", "text")
	return NewWebServer(cfg, nil, history, deployer, logger), history
}

// fakeDeployer drives the trigger endpoints in tests. Deploy blocks on the
// release channel when set, and emits one step event through the registered
// callback before returning.
type fakeDeployer struct {
	emit    orchestrator.EventFunc
	release chan struct{}
	deploys chan orchestrator.DeployOptions
	rolls   chan struct{}
}

func newFakeDeployer() *fakeDeployer {
	return &fakeDeployer{
		deploys: make(chan orchestrator.DeployOptions, 1),
		rolls:   make(chan struct{}, 1),
	}
}

func (f *fakeDeployer) OnEvent(fn orchestrator.EventFunc) {
	f.emit = fn
}

func (f *fakeDeployer) Deploy(ctx context.Context, opts orchestrator.DeployOptions) (*types.Deployment, error) {
	if f.release != nil {
		<-f.release
	}
	if f.emit != nil {
		f.emit(types.DeploymentEvent{
			DeploymentID: "d1",
			Step:         "resolve-outputs",
			Status:       types.StepRunning,
			Timestamp:    time.Now(),
		})
	}
	f.deploys <- opts
	return &types.Deployment{ID: "d1", ImageTag: opts.Tag, Status: types.DeploymentCompleted}, nil
}

func (f *fakeDeployer) Rollback(ctx context.Context) (*types.Deployment, error) {
	f.rolls <- struct{}{}
	return &types.Deployment{ID: "d2", Status: types.DeploymentCompleted}, nil
}

func TestListDeploymentsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/deployments", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Deployments []*types.Deployment `json:"deployments"`
		Count       int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Zero(t, response.Count)
	assert.NotNil(t, response.Deployments)
}

func TestListDeploymentsReturnsHistory(t *testing.T) {
	srv, history := newTestServer(t)

	require.NoError(t, history.Append(&types.Deployment{
		ID:        "d1",
		Project:   "shop",
		ImageTag:  "v1",
		Status:    types.DeploymentCompleted,
		StartedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/deployments", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var response struct {
		Deployments []*types.Deployment `json:"deployments"`
		Count       int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	require.Equal(t, 1, response.Count)
	assert.Equal(t, "d1", response.Deployments[0].ID)
}

func TestGetDeploymentByID(t *testing.T) {
	srv, history := newTestServer(t)

	require.NoError(t, history.Append(&types.Deployment{
		ID:        "d42",
		ImageTag:  "v42",
		Status:    types.DeploymentCompleted,
		StartedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/deployments/d42", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var d types.Deployment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "v42", d.ImageTag)
}

func TestGetDeploymentNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/deployments/missing", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBroadcastEventWithoutConnections(t *testing.T) {
	srv, _ := newTestServer(t)

	// Must not panic or block with no clients attached
	srv.BroadcastEvent(types.DeploymentEvent{
		DeploymentID: "d1",
		Step:         "build-image",
		Status:       types.StepRunning,
		Timestamp:    time.Now(),
	})
}

func TestTriggerEndpointsAbsentWithoutDeployer(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/deployments", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTriggerDeployStreamsEventsToWebsocket(t *testing.T) {
	deployer := newFakeDeployer()
	srv, _ := newTestServerWithDeployer(t, deployer)

	ts := httptest.NewServer(srv.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The handler registers the connection just after the handshake
	require.Eventually(t, func() bool {
		srv.connMutex.RLock()
		defer srv.connMutex.RUnlock()
		return len(srv.connections) == 1
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Post(ts.URL+"/api/deployments", "application/json",
		strings.NewReader(`{"tag": "v5", "skipBuild": true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	opts := <-deployer.deploys
	assert.Equal(t, "v5", opts.Tag)
	assert.True(t, opts.SkipBuild)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event types.DeploymentEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, "d1", event.DeploymentID)
	assert.Equal(t, "resolve-outputs", event.Step)
	assert.Equal(t, types.StepRunning, event.Status)
}

func TestTriggerDeployRejectsConcurrentRuns(t *testing.T) {
	deployer := newFakeDeployer()
	deployer.release = make(chan struct{})
	srv, _ := newTestServerWithDeployer(t, deployer)

	first := httptest.NewRecorder()
	srv.router.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/api/deployments", nil))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := httptest.NewRecorder()
	srv.router.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/api/deployments", nil))
	assert.Equal(t, http.StatusConflict, second.Code)

	close(deployer.release)
	<-deployer.deploys

	// The slot frees up once the run finishes
	require.Eventually(t, func() bool {
		return !srv.deployBusy.Load()
	}, time.Second, 10*time.Millisecond)
}

func TestTriggerRollback(t *testing.T) {
	deployer := newFakeDeployer()
	srv, _ := newTestServerWithDeployer(t, deployer)

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/rollback", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-deployer.rolls:
	case <-time.After(time.Second):
		t.Fatal("rollback never reached the deployer")
	}
}
