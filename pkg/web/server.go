package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/versus-control/deployctl/internal/config"
	"github.com/versus-control/deployctl/internal/logging"
	awsclient "github.com/versus-control/deployctl/pkg/aws"
	"github.com/versus-control/deployctl/pkg/orchestrator"
	"github.com/versus-control/deployctl/pkg/types"
)

// WebSocket connection wrapper. writeMu serializes writes between the ping
// loop and event broadcasts.
type wsConnection struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	lastPong time.Time
}

func (c *wsConnection) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsConnection) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// Deployer runs deployments on behalf of dashboard clients. The orchestrator
// pipeline implements it; its step events reach websocket clients through
// BroadcastEvent.
type Deployer interface {
	Deploy(ctx context.Context, opts orchestrator.DeployOptions) (*types.Deployment, error)
	Rollback(ctx context.Context) (*types.Deployment, error)
	OnEvent(fn orchestrator.EventFunc)
}

// WebServer serves the deployment status dashboard API
type WebServer struct {
	router    *mux.Router
	awsClient *awsclient.Client
	history   *orchestrator.History
	deployer  Deployer
	cfg       *config.Config
	logger    *logging.Logger
	upgrader  websocket.Upgrader

	// One deployment at a time
	deployBusy atomic.Bool

	// WebSocket connection management
	connections map[string]*wsConnection
	connMutex   sync.RWMutex
}

// NewWebServer creates a new dashboard server instance. When a deployer is
// given, its step events are broadcast to websocket clients and the trigger
// endpoints are registered.
func NewWebServer(cfg *config.Config, awsClient *awsclient.Client, history *orchestrator.History, deployer Deployer, logger *logging.Logger) *WebServer {
	ws := &WebServer{
		router:      mux.NewRouter(),
		awsClient:   awsClient,
		history:     history,
		deployer:    deployer,
		cfg:         cfg,
		logger:      logger,
		connections: make(map[string]*wsConnection),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	if deployer != nil {
		deployer.OnEvent(ws.BroadcastEvent)
	}

	ws.setupRoutes()
	return ws
}

// setupRoutes configures HTTP routes
func (ws *WebServer) setupRoutes() {
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/deployments", ws.listDeploymentsHandler).Methods("GET")
	api.HandleFunc("/deployments/{id}", ws.getDeploymentHandler).Methods("GET")
	api.HandleFunc("/fleet", ws.getFleetHandler).Methods("GET")
	api.HandleFunc("/instances/{id}", ws.getInstanceHandler).Methods("GET")

	if ws.deployer != nil {
		api.HandleFunc("/deployments", ws.triggerDeployHandler).Methods("POST")
		api.HandleFunc("/rollback", ws.triggerRollbackHandler).Methods("POST")
	}
	api.HandleFunc("/health", ws.healthHandler).Methods("GET")

	// WebSocket for real-time step transitions
	if ws.cfg.Web.EnableWebSockets {
		ws.router.HandleFunc("/ws", ws.websocketHandler)
	}
}

// Start starts the dashboard server
func (ws *WebServer) Start(port int) error {
	addr := fmt.Sprintf("%s:%d", ws.cfg.Web.Host, port)
	ws.logger.WithField("addr", addr).Info("Starting dashboard server")

	return http.ListenAndServe(addr, ws.router)
}

// API Handlers

func (ws *WebServer) listDeploymentsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	deployments, err := ws.history.Load()
	if err != nil {
		ws.logger.WithError(err).Error("Failed to load deployment history")
		http.Error(w, "Failed to load deployments", http.StatusInternalServerError)
		return
	}
	if deployments == nil {
		deployments = []*types.Deployment{}
	}

	response := map[string]interface{}{
		"deployments": deployments,
		"count":       len(deployments),
		"timestamp":   time.Now(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		ws.logger.WithError(err).Error("Failed to encode deployments response")
	}
}

func (ws *WebServer) getDeploymentHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]

	deployments, err := ws.history.Load()
	if err != nil {
		ws.logger.WithError(err).Error("Failed to load deployment history")
		http.Error(w, "Failed to load deployments", http.StatusInternalServerError)
		return
	}

	for _, d := range deployments {
		if d.ID == id {
			if err := json.NewEncoder(w).Encode(d); err != nil {
				ws.logger.WithError(err).Error("Failed to encode deployment")
			}
			return
		}
	}

	http.Error(w, "Deployment not found", http.StatusNotFound)
}

func (ws *WebServer) getFleetHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	groupName := ws.cfg.Deploy.AutoScalingGroup
	if groupName == "" {
		http.Error(w, "No Auto Scaling Group configured", http.StatusBadRequest)
		return
	}

	group, err := ws.awsClient.GetAutoScalingGroup(r.Context(), groupName)
	if err != nil {
		ws.logger.WithError(err).Error("Failed to describe Auto Scaling Group")
		http.Error(w, "Failed to describe fleet", http.StatusInternalServerError)
		return
	}

	if err := json.NewEncoder(w).Encode(group); err != nil {
		ws.logger.WithError(err).Error("Failed to encode fleet response")
	}
}

// deployRequest is the trigger endpoint's body.
type deployRequest struct {
	Tag       string `json:"tag"`
	SkipBuild bool   `json:"skipBuild"`
	Apply     bool   `json:"apply"`
}

func (ws *WebServer) triggerDeployHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !ws.deployBusy.CompareAndSwap(false, true) {
		http.Error(w, "A deployment is already running", http.StatusConflict)
		return
	}

	ws.logger.WithField("tag", req.Tag).Info("Deployment triggered from dashboard")

	// The run outlives the request; clients follow progress over /ws
	go func() {
		defer ws.deployBusy.Store(false)
		if _, err := ws.deployer.Deploy(context.Background(), orchestrator.DeployOptions{
			Tag:        req.Tag,
			SkipBuild:  req.SkipBuild,
			ApplyInfra: req.Apply,
		}); err != nil {
			ws.logger.WithError(err).Error("Dashboard-triggered deployment failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "accepted"}); err != nil {
		ws.logger.WithError(err).Error("Failed to encode deploy response")
	}
}

func (ws *WebServer) triggerRollbackHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !ws.deployBusy.CompareAndSwap(false, true) {
		http.Error(w, "A deployment is already running", http.StatusConflict)
		return
	}

	ws.logger.Info("Rollback triggered from dashboard")

	go func() {
		defer ws.deployBusy.Store(false)
		if _, err := ws.deployer.Rollback(context.Background()); err != nil {
			ws.logger.WithError(err).Error("Dashboard-triggered rollback failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "accepted"}); err != nil {
		ws.logger.WithError(err).Error("Failed to encode rollback response")
	}
}

func (ws *WebServer) getInstanceHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]

	instance, err := ws.awsClient.GetEC2Instance(r.Context(), id)
	if err != nil {
		ws.logger.WithError(err).WithField("instance", id).Error("Failed to describe instance")
		http.Error(w, "Instance not found", http.StatusNotFound)
		return
	}

	if err := json.NewEncoder(w).Encode(instance); err != nil {
		ws.logger.WithError(err).Error("Failed to encode instance response")
	}
}

func (ws *WebServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "healthy"
	if err := ws.awsClient.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		ws.logger.WithError(err).Warn("AWS connectivity check failed")
	}

	response := map[string]interface{}{
		"status":    status,
		"region":    ws.awsClient.GetRegion(),
		"timestamp": time.Now(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		ws.logger.WithError(err).Error("Failed to encode health response")
	}
}

// BroadcastEvent sends a deployment event to all active WebSocket connections.
// It satisfies orchestrator.EventFunc.
func (ws *WebServer) BroadcastEvent(event types.DeploymentEvent) {
	ws.connMutex.RLock()
	defer ws.connMutex.RUnlock()

	for connID, wsConn := range ws.connections {
		if err := wsConn.writeJSON(event); err != nil {
			ws.logger.WithError(err).WithField("conn_id", connID).Debug("Failed to push event")
		}
	}
}

func (ws *WebServer) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.WithError(err).Error("Failed to upgrade WebSocket")
		return
	}

	// Generate unique connection ID
	connID := fmt.Sprintf("%s-%d", r.RemoteAddr, time.Now().UnixNano())

	ws.connMutex.Lock()
	ws.connections[connID] = &wsConnection{
		conn:     conn,
		lastPong: time.Now(),
	}
	ws.connMutex.Unlock()

	ws.logger.WithField("conn_id", connID).Info("WebSocket connection established")

	defer func() {
		ws.connMutex.Lock()
		delete(ws.connections, connID)
		ws.connMutex.Unlock()
		conn.Close()
		ws.logger.WithField("conn_id", connID).Info("WebSocket connection closed")
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))

	// Ping/pong keeps stale connections out of the broadcast set
	conn.SetPongHandler(func(string) error {
		ws.connMutex.Lock()
		if wsConn, exists := ws.connections[connID]; exists {
			wsConn.lastPong = time.Now()
		}
		ws.connMutex.Unlock()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(45 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})

	// Drain incoming messages; clients only listen
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					ws.logger.WithError(err).WithField("conn_id", connID).Error("WebSocket read error")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-pingTicker.C:
			ws.connMutex.RLock()
			wsConn, exists := ws.connections[connID]
			ws.connMutex.RUnlock()
			if !exists {
				return
			}

			if err := wsConn.writePing(); err != nil {
				ws.logger.WithError(err).WithField("conn_id", connID).Error("Failed to send ping")
				return
			}

			if time.Since(wsConn.lastPong) > 90*time.Second {
				ws.logger.WithField("conn_id", connID).Warn("Connection seems stale, closing")
				return
			}

		case <-done:
			return

		case <-r.Context().Done():
			return
		}
	}
}
