package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"insightpulse/internal/infrastructure"
	"insightpulse/pkg/contracts/events"
)

const (
	// Time allowed to write a message to the peer
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next message from the peer before a
	// server-initiated ping probes the connection
	defaultReceiveTimeout = 60 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	defaultSendBuffer = 256
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client is the per-connection session handler. It owns the inbound
// message loop, mutates the hub's subscription state and asks the job
// service to start orchestration runs.
type Client struct {
	hub  *Hub
	conn Connection
	svc  JobService

	// Buffered channel of outbound messages
	send chan []byte

	// Guards send against close while enqueueing
	sendMu sync.RWMutex
	closed bool

	// Job ids this connection watches. Mutated only under hub.mu.
	subscriptions map[string]struct{}

	id          string
	traceID     string
	remoteAddr  string
	connectedAt time.Time

	// Implicit subscription for the job-scoped endpoint; its
	// disconnect feeds the cancellation policy.
	implicitJob string

	receiveTimeout time.Duration
	writeWait      time.Duration

	logger *slog.Logger

	messagesReceived int64
	messagesSent     int64
}

// ClientOptions configures a Client beyond its required dependencies
type ClientOptions struct {
	TraceID        string
	ImplicitJob    string
	ReceiveTimeout time.Duration
	WriteWait      time.Duration
	SendBufferSize int
}

// NewClient creates a new session handler for a connection
func NewClient(hub *Hub, conn Connection, svc JobService, logger *slog.Logger, opts ClientOptions) *Client {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	if opts.ReceiveTimeout <= 0 {
		opts.ReceiveTimeout = defaultReceiveTimeout
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBuffer
	}

	id := uuid.New().String()
	logger = logger.With(
		slog.String("component", "websocket.client"),
		slog.String("client_id", id),
	)
	if opts.TraceID != "" {
		logger = logger.With(slog.String("trace_id", opts.TraceID))
	}

	return &Client{
		hub:            hub,
		conn:           conn,
		svc:            svc,
		send:           make(chan []byte, opts.SendBufferSize),
		subscriptions:  make(map[string]struct{}),
		id:             id,
		traceID:        opts.TraceID,
		remoteAddr:     conn.RemoteAddr(),
		connectedAt:    time.Now(),
		implicitJob:    opts.ImplicitJob,
		receiveTimeout: opts.ReceiveTimeout,
		writeWait:      opts.WriteWait,
		logger:         logger,
	}
}

// ID returns the connection id
func (c *Client) ID() string {
	return c.id
}

// enqueue attempts a non-blocking send to the client's outbound
// buffer. Returns false if the buffer is full or already closed.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the outbound buffer exactly once
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ctx returns a background context carrying the client's trace id
func (c *Client) ctx() context.Context {
	ctx := context.Background()
	if c.traceID != "" {
		ctx = infrastructure.WithTraceID(ctx, c.traceID)
	}
	return ctx
}

// ReadPump pumps messages from the websocket connection into the
// session handler until the peer goes away
func (c *Client) ReadPump() {
	defer func() {
		c.logger.InfoContext(c.ctx(), "websocket client disconnected",
			slog.Duration("connection_duration", time.Since(c.connectedAt)),
			slog.Int64("messages_received", c.messagesReceived))
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.receiveTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.receiveTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.ErrorContext(c.ctx(), "unexpected websocket close",
					slog.String("error", err.Error()))
			}
			break
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		c.messagesReceived++
		c.conn.SetReadDeadline(time.Now().Add(c.receiveTimeout))

		c.handleMessage(message)
	}
}

// handleMessage dispatches one decoded inbound message. A failure in
// handling one message never tears down the loop.
func (c *Client) handleMessage(message []byte) {
	msg := events.DecodeInbound(message)

	switch msg.Kind {
	case events.InboundPing:
		c.reply(events.NewPong())

	case events.InboundSubscribe:
		if msg.JobID == "" {
			// A subscribe without a job id is a protocol error;
			// echo it back rather than dropping it silently.
			c.reply(events.NewEcho(msg.Raw))
			return
		}
		c.hub.Subscribe(c, msg.JobID)
		c.reply(events.NewSubscribed(msg.JobID))

		if err := c.svc.EnsureStarted(c.ctx(), msg.JobID, msg.Domain); err != nil {
			c.logger.WarnContext(c.ctx(), "failed to start orchestration",
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()))
		}

	case events.InboundUnsubscribe:
		if msg.JobID != "" {
			c.hub.Unsubscribe(c, msg.JobID)
		}

	case events.InboundGetStatus:
		c.reply(c.statusReply(msg.JobID))

	default:
		c.reply(events.NewEcho(msg.Raw))
	}
}

// statusReply builds the job_status response for a get_status request
func (c *Client) statusReply(jobID string) events.Event {
	job, found := c.svc.JobStatus(jobID)
	if !found {
		return events.NewJobStatus(jobID, "not_found", nil, "")
	}
	progress := job.Progress
	return events.NewJobStatus(job.ID, string(job.Status), &progress, job.Stage)
}

// reply serializes an event onto this connection's outbound buffer
func (c *Client) reply(event events.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		c.logger.ErrorContext(c.ctx(), "error marshaling reply",
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()))
		return
	}
	if !c.enqueue(data) {
		c.logger.WarnContext(c.ctx(), "dropping reply, send buffer full",
			slog.String("event_type", string(event.Type)))
	}
}

// WritePump pumps messages from the outbound buffer to the websocket
// connection and keeps the connection alive with periodic pings
func (c *Client) WritePump() {
	// Ping before the peer's read deadline would expire
	pingPeriod := c.receiveTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.logger.InfoContext(c.ctx(), "websocket write pump stopped",
			slog.Int64("messages_sent", c.messagesSent))
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.ErrorContext(c.ctx(), "error writing message",
					slog.String("error", err.Error()))
				return
			}
			c.messagesSent++

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.DebugContext(c.ctx(), "failed to send ping",
					slog.String("error", err.Error()))
				return
			}
		}
	}
}

// ServeWS registers a client for the general endpoint and starts its
// pumps. Subscriptions arrive through explicit subscribe messages.
func ServeWS(hub *Hub, conn Connection, svc JobService, logger *slog.Logger, opts ClientOptions) *Client {
	client := NewClient(hub, conn, svc, logger, opts)
	hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
	return client
}

// ServeJobWS registers a client for the job-scoped endpoint. The job
// id comes from the URL, subscription is implicit on connect, and the
// run starts immediately if none is active.
func ServeJobWS(hub *Hub, conn Connection, svc JobService, logger *slog.Logger, jobID, domain string, opts ClientOptions) *Client {
	opts.ImplicitJob = jobID
	client := NewClient(hub, conn, svc, logger, opts)
	hub.Register(client)

	go client.WritePump()

	hub.Subscribe(client, jobID)
	client.reply(events.NewSubscribed(jobID))
	if err := svc.EnsureStarted(client.ctx(), jobID, domain); err != nil {
		client.logger.WarnContext(client.ctx(), "failed to start orchestration",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()))
	}

	go client.ReadPump()
	return client
}
