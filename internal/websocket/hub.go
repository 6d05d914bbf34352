package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"insightpulse/internal/infrastructure"
	"insightpulse/pkg/contracts/events"
)

// Hub is the connection registry and broadcaster. It owns the set of
// live connections, the job id to subscriber-set index, and delivery
// of events to subscribers with dead-connection pruning.
//
// The two structures are kept behind a single mutex so a connection id
// appears in subscriptions[job] if and only if the connection's own
// subscription set contains the job.
type Hub struct {
	mu sync.RWMutex

	// Registered clients keyed by connection id
	clients map[string]*Client

	// Job id -> connection id -> client
	subscriptions map[string]map[string]*Client

	logger *slog.Logger

	// Counters. activeConnections decrements on disconnect, the rest
	// are monotonic.
	totalConnections  int64
	activeConnections int64
	messagesSent      int64
	sendErrors        int64

	// Called outside the lock whenever a disconnect leaves a job with
	// zero subscribers. Wired to the orchestrator's cancellation
	// policy by the application.
	onJobAbandoned func(jobID string)

	otelMetrics *OTelMetrics

	metricsQuit chan struct{}
	running     bool
}

// NewHub creates a new Hub instance with dependency injection
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger = logger.With(slog.String("component", "websocket.hub"))

	return &Hub{
		clients:       make(map[string]*Client),
		subscriptions: make(map[string]map[string]*Client),
		logger:        logger,
		metricsQuit:   make(chan struct{}),
	}
}

// SetJobAbandonedFunc installs the hook invoked when the last
// subscriber of a job disconnects. Must be called before Start.
func (h *Hub) SetJobAbandonedFunc(fn func(jobID string)) {
	h.onJobAbandoned = fn
}

// SetOTelMetrics installs the OpenTelemetry instruments. Optional.
func (h *Hub) SetOTelMetrics(m *OTelMetrics) {
	h.otelMetrics = m
}

// Start starts the hub's background goroutines
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.reportMetrics()
}

// Register adds a connection to the registry. Registration is
// synchronous so a caller may subscribe immediately afterwards.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.id] = client
	h.totalConnections++
	h.activeConnections = int64(len(h.clients))
	count := len(h.clients)
	h.mu.Unlock()

	ctx := context.Background()
	if client.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, client.traceID)
	}
	h.logger.InfoContext(ctx, "client registered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.String("remote_addr", client.remoteAddr))

	if h.otelMetrics != nil {
		h.otelMetrics.RecordConnection(ctx, client.id)
		h.otelMetrics.RecordClientCount(ctx, int64(count))
	}
}

// Disconnect removes a connection and every subscription it holds.
// Safe to call for an already removed client.
func (h *Hub) Disconnect(client *Client) {
	h.removeClient(client)
}

// removeClient is the single path for taking a connection out of both
// registries. Abandoned-job hooks fire after the lock is released.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closeSend()

	var abandoned []string
	for jobID := range client.subscriptions {
		if subs, ok := h.subscriptions[jobID]; ok {
			delete(subs, client.id)
			if len(subs) == 0 {
				delete(h.subscriptions, jobID)
				abandoned = append(abandoned, jobID)
			}
		}
	}
	client.subscriptions = make(map[string]struct{})

	h.activeConnections = int64(len(h.clients))
	count := len(h.clients)
	h.mu.Unlock()

	ctx := context.Background()
	if client.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, client.traceID)
	}
	h.logger.InfoContext(ctx, "client unregistered",
		slog.Int("total_clients", count),
		slog.String("client_id", client.id),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))

	if h.otelMetrics != nil {
		h.otelMetrics.RecordDisconnection(ctx, client.id, time.Since(client.connectedAt))
		h.otelMetrics.RecordClientCount(ctx, int64(count))
	}

	if h.onJobAbandoned != nil {
		for _, jobID := range abandoned {
			h.onJobAbandoned(jobID)
		}
	}
}

// Subscribe adds the job to the client's subscription set and the
// client to the job's subscriber set. Re-subscribing is a no-op.
func (h *Hub) Subscribe(client *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.id]; !ok {
		h.logger.Warn("subscribe from unknown client ignored",
			slog.String("client_id", client.id),
			slog.String("job_id", jobID))
		return
	}

	client.subscriptions[jobID] = struct{}{}
	subs, ok := h.subscriptions[jobID]
	if !ok {
		subs = make(map[string]*Client)
		h.subscriptions[jobID] = subs
	}
	subs[client.id] = client
}

// Unsubscribe is the inverse of Subscribe. Removing a subscription
// that does not exist is a no-op.
func (h *Hub) Unsubscribe(client *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.subscriptions, jobID)
	if subs, ok := h.subscriptions[jobID]; ok {
		delete(subs, client.id)
		if len(subs) == 0 {
			delete(h.subscriptions, jobID)
		}
	}
}

// SubscribersOf returns a snapshot of the clients currently subscribed
// to the job
func (h *Hub) SubscribersOf(jobID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subs := h.subscriptions[jobID]
	snapshot := make([]*Client, 0, len(subs))
	for _, client := range subs {
		snapshot = append(snapshot, client)
	}
	return snapshot
}

// SubscriberCount returns the number of clients watching the job
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[jobID])
}

// BroadcastToJob delivers the event to every current subscriber of the
// job. A connection whose send buffer is full is treated as dead and
// removed; delivery continues to the remaining subscribers. Zero
// subscribers is not an error.
func (h *Hub) BroadcastToJob(jobID string, event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("error marshaling event",
			slog.String("job_id", jobID),
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()))
		return
	}

	subscribers := h.SubscribersOf(jobID)
	if len(subscribers) == 0 {
		h.logger.Debug("broadcast with no subscribers",
			slog.String("job_id", jobID),
			slog.String("event_type", string(event.Type)))
		return
	}

	successCount := 0
	failCount := 0
	var dead []*Client

	for _, client := range subscribers {
		if client.enqueue(data) {
			successCount++
		} else {
			failCount++
			dead = append(dead, client)
		}
	}

	h.mu.Lock()
	h.messagesSent += int64(successCount)
	h.sendErrors += int64(failCount)
	h.mu.Unlock()

	// Dead connections are pruned entirely rather than just
	// unsubscribed; a full send buffer means the peer is gone or stuck.
	for _, client := range dead {
		h.logger.Warn("client send buffer full, disconnecting",
			slog.String("client_id", client.id),
			slog.String("job_id", jobID))
		h.removeClient(client)
	}

	if h.otelMetrics != nil {
		h.otelMetrics.RecordBroadcast(context.Background(), string(event.Type),
			int64(len(subscribers)), int64(successCount), int64(failCount))
	}
}

// SendDirect delivers an event to a single connection, bypassing the
// subscriber fan-out. Used for request/response messages.
func (h *Hub) SendDirect(connID string, event events.Event) error {
	h.mu.RLock()
	client, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("connection %s not found", connID)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if !client.enqueue(data) {
		h.mu.Lock()
		h.sendErrors++
		h.mu.Unlock()
		h.removeClient(client)
		return fmt.Errorf("connection %s send buffer full", connID)
	}

	h.mu.Lock()
	h.messagesSent++
	h.mu.Unlock()
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop gracefully stops the hub and closes all client connections
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.metricsQuit)

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.closeSend()
		delete(h.clients, id)
	}
	h.subscriptions = make(map[string]map[string]*Client)
}

// reportMetrics periodically logs hub metrics
func (h *Hub) reportMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.metricsQuit:
			return
		case <-ticker.C:
			h.mu.RLock()
			h.logger.Info("websocket hub metrics",
				slog.Int("active_clients", len(h.clients)),
				slog.Int("watched_jobs", len(h.subscriptions)),
				slog.Int64("total_connections", h.totalConnections),
				slog.Int64("messages_sent", h.messagesSent),
				slog.Int64("send_errors", h.sendErrors))
			h.mu.RUnlock()
		}
	}
}

// GetHubMetrics returns current hub counters
func (h *Hub) GetHubMetrics() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"active_connections": h.activeConnections,
		"total_connections":  h.totalConnections,
		"messages_sent":      h.messagesSent,
		"errors":             h.sendErrors,
		"watched_jobs":       len(h.subscriptions),
	}
}
