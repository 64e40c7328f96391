package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/dto"
	"github.com/noah-isme/classlinker-chat/internal/models"
	"github.com/noah-isme/classlinker-chat/pkg/config"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
)

// Options tunes connection handling.
type Options struct {
	WriteWait        time.Duration
	PongWait         time.Duration
	PingInterval     time.Duration
	MaxFrameBytes    int64
	SendBuffer       int
	OperationTimeout time.Duration

	// OnSlowConsumer is invoked when a connection is dropped for a full buffer.
	OnSlowConsumer func()
}

// OptionsFromConfig maps the chat configuration onto gateway options.
func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{
		WriteWait:        cfg.WriteWait,
		PongWait:         cfg.PongWait,
		PingInterval:     cfg.PingInterval,
		MaxFrameBytes:    cfg.MaxFrameBytes,
		SendBuffer:       cfg.SendBuffer,
		OperationTimeout: cfg.OperationTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.MaxFrameBytes <= 0 {
		o.MaxFrameBytes = 8192
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 5 * time.Second
	}
	return o
}

type accessChecker interface {
	Authorize(ctx context.Context, identity models.Identity, subjectID string) error
}

type messageAppender interface {
	Append(ctx context.Context, subjectID string, author models.Identity, body string) (*models.ChatMessage, error)
}

type presenceStore interface {
	Enabled() bool
	Add(ctx context.Context, subjectID, userID, connID string) error
	Remove(ctx context.Context, subjectID, userID, connID string) error
	Touch(ctx context.Context, subjectID, userID, connID string) error
	Online(ctx context.Context, subjectID string) ([]string, error)
}

// GatewayMetrics is the instrumentation the gateway reports to.
type GatewayMetrics interface {
	SetChatGauges(rooms, connections int)
	IncChatDenied(event string)
	ObserveBroadcast(recipients int)
	IncSlowConsumer()
}

type noopMetrics struct{}

func (noopMetrics) SetChatGauges(int, int) {}
func (noopMetrics) IncChatDenied(string)   {}
func (noopMetrics) ObserveBroadcast(int)   {}
func (noopMetrics) IncSlowConsumer()       {}

// Gateway runs the chat protocol over websocket connections.
type Gateway struct {
	registry  *Registry
	access    accessChecker
	messages  messageAppender
	fanout    Fanout
	presence  presenceStore
	validator *validator.Validate
	metrics   GatewayMetrics
	logger    *zap.Logger
	opts      Options
	seq       *sequencer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// GatewayDeps groups the collaborators of a Gateway. Presence, Validator,
// Metrics and Logger are optional.
type GatewayDeps struct {
	Registry  *Registry
	Access    accessChecker
	Messages  messageAppender
	Fanout    Fanout
	Presence  presenceStore
	Validator *validator.Validate
	Metrics   GatewayMetrics
	Logger    *zap.Logger
}

// NewGateway wires a gateway.
func NewGateway(deps GatewayDeps, opts Options) *Gateway {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Fanout == nil {
		deps.Fanout = NewLocalFanout(deps.Registry, deps.Metrics)
	}
	opts = opts.withDefaults()
	if opts.OnSlowConsumer == nil {
		opts.OnSlowConsumer = deps.Metrics.IncSlowConsumer
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		registry:  deps.Registry,
		access:    deps.Access,
		messages:  deps.Messages,
		fanout:    deps.Fanout,
		presence:  deps.Presence,
		validator: deps.Validator,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
		seq:       newSequencer(),
		ctx:       ctx,
		cancel:    cancel,
		clients:   make(map[*Client]struct{}),
	}
}

// Serve runs the protocol on an upgraded connection for an authenticated
// identity and returns once the connection is closed.
func (g *Gateway) Serve(conn *websocket.Conn, identity models.Identity) {
	c := newClient(conn, identity, g.opts, g.logger)
	if !g.track(c) {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
		c.writePump()
		return
	}
	c.logger.Info("chat connection opened")

	go c.writePump()
	c.readPump(g.handle, g.keepalive)

	c.shutdown(websocket.CloseNormalClosure, "")
	g.disconnect(c)
	c.logger.Info("chat connection closed")
}

// Online lists users connected to subjectID, across instances when presence is enabled.
func (g *Gateway) Online(ctx context.Context, subjectID string) ([]string, error) {
	if g.presence != nil && g.presence.Enabled() {
		return g.presence.Online(ctx, subjectID)
	}
	return g.registry.OnlineUsers(subjectID), nil
}

// Connections returns the number of open connections on this instance.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown closes every connection and refuses new ones.
func (g *Gateway) Shutdown() {
	g.cancel()
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()
	for _, c := range clients {
		c.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
}

func (g *Gateway) track(c *Client) bool {
	g.mu.Lock()
	if g.ctx.Err() != nil {
		g.mu.Unlock()
		return false
	}
	g.clients[c] = struct{}{}
	g.mu.Unlock()
	g.updateGauges()
	return true
}

func (g *Gateway) disconnect(c *Client) {
	if c.state == stateJoined {
		g.leaveRoom(c)
	}
	c.state = stateClosed
	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
	g.updateGauges()
}

func (g *Gateway) handle(c *Client, frame []byte) {
	var in dto.InboundEvent
	if err := json.Unmarshal(frame, &in); err != nil || in.Event == "" {
		g.sendError(c, "", "", appErrors.Clone(appErrors.ErrBadRequest, "frame must be a JSON object with an event"))
		return
	}

	ctx, cancel := context.WithTimeout(g.ctx, g.opts.OperationTimeout)
	defer cancel()

	switch in.Event {
	case dto.EventJoinSubject:
		g.join(ctx, c, in.Data)
	case dto.EventSendMessage:
		g.sendMessage(ctx, c, in.Data)
	case dto.EventLeaveSubject:
		g.leave(c, in.Data)
	case dto.EventPing:
		g.emit(c, dto.OutboundEvent{Event: dto.EventPong})
	default:
		g.sendError(c, in.Event, "", appErrors.Clone(appErrors.ErrBadRequest, "unknown event "+in.Event))
	}
}

func (g *Gateway) join(ctx context.Context, c *Client, data json.RawMessage) {
	var p dto.JoinSubjectPayload
	if !g.decode(c, dto.EventJoinSubject, data, &p) {
		return
	}
	subjectID := strings.TrimSpace(string(p.SubjectID))
	if !sameIdentity(c.identity, p.UserID, p.UserType) {
		g.deny(c, dto.EventJoinSubject, subjectID, appErrors.Clone(appErrors.ErrAccessDenied, "payload identity does not match the session"))
		return
	}
	if err := g.access.Authorize(ctx, c.identity, subjectID); err != nil {
		g.deny(c, dto.EventJoinSubject, subjectID, err)
		return
	}

	if c.state == stateJoined && c.room == subjectID {
		g.emit(c, dto.OutboundEvent{Event: dto.EventJoinedSubject, Data: dto.SubjectAck{SubjectID: subjectID}})
		return
	}
	if c.state == stateJoined {
		g.leaveRoom(c)
	}
	g.registry.Join(subjectID, c)
	c.state = stateJoined
	c.room = subjectID
	g.updateGauges()
	g.presenceCall(func(ctx context.Context) error { return g.presence.Add(ctx, subjectID, c.identity.UserID, c.id) })

	c.logger.Debug("joined subject room", zap.String("subject_id", subjectID))
	g.emit(c, dto.OutboundEvent{Event: dto.EventJoinedSubject, Data: dto.SubjectAck{SubjectID: subjectID}})
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, data json.RawMessage) {
	var p dto.SendMessagePayload
	if !g.decode(c, dto.EventSendMessage, data, &p) {
		return
	}
	subjectID := strings.TrimSpace(string(p.SubjectID))
	if !sameIdentity(c.identity, p.UserID, p.UserType) {
		g.deny(c, dto.EventSendMessage, subjectID, appErrors.Clone(appErrors.ErrAccessDenied, "payload identity does not match the session"))
		return
	}
	if err := g.access.Authorize(ctx, c.identity, subjectID); err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrAccessDenied.Code && c.state == stateJoined && c.room == subjectID {
			g.leaveRoom(c)
		}
		g.deny(c, dto.EventSendMessage, subjectID, err)
		return
	}
	if c.state != stateJoined || c.room != subjectID {
		g.sendError(c, dto.EventSendMessage, subjectID, appErrors.ErrNotInRoom)
		return
	}

	unlock := g.seq.Lock(subjectID)
	msg, err := g.messages.Append(ctx, subjectID, c.identity, p.Message)
	if err != nil {
		unlock()
		g.sendError(c, dto.EventSendMessage, subjectID, err)
		return
	}
	if err := g.fanout.Publish(ctx, *msg); err != nil {
		c.logger.Error("chat fan-out failed", zap.String("subject_id", subjectID), zap.Int64("chat_id", msg.ID), zap.Error(err))
	}
	unlock()
}

func (g *Gateway) leave(c *Client, data json.RawMessage) {
	var p dto.LeaveSubjectPayload
	if !g.decode(c, dto.EventLeaveSubject, data, &p) {
		return
	}
	subjectID := strings.TrimSpace(string(p.SubjectID))
	if c.state == stateJoined && c.room == subjectID {
		g.leaveRoom(c)
	}
	g.emit(c, dto.OutboundEvent{Event: dto.EventLeftSubject, Data: dto.SubjectAck{SubjectID: subjectID}})
}

func (g *Gateway) leaveRoom(c *Client) {
	subjectID := c.room
	g.registry.Leave(subjectID, c)
	c.room = ""
	c.state = stateConnected
	g.updateGauges()
	g.presenceCall(func(ctx context.Context) error { return g.presence.Remove(ctx, subjectID, c.identity.UserID, c.id) })
}

// keepalive refreshes presence on every pong so that quiet rooms stay listed.
func (g *Gateway) keepalive(c *Client) {
	if c.state != stateJoined {
		return
	}
	subjectID := c.room
	g.presenceCall(func(ctx context.Context) error { return g.presence.Touch(ctx, subjectID, c.identity.UserID, c.id) })
}

func (g *Gateway) decode(c *Client, event string, data json.RawMessage, v interface{}) bool {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		g.sendError(c, event, "", appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "malformed "+event+" payload"))
		return false
	}
	if err := g.validator.Struct(v); err != nil {
		g.sendError(c, event, "", appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "invalid "+event+" payload"))
		return false
	}
	return true
}

func (g *Gateway) deny(c *Client, event, subjectID string, err error) {
	if appErrors.FromError(err).Code == appErrors.ErrAccessDenied.Code {
		g.metrics.IncChatDenied(event)
		c.logger.Info("chat action denied", zap.String("event", event), zap.String("subject_id", subjectID))
	}
	g.sendError(c, event, subjectID, err)
}

func (g *Gateway) sendError(c *Client, event, subjectID string, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Code == appErrors.ErrInternal.Code || appErr.Code == appErrors.ErrStoreUnavailable.Code {
		c.logger.Warn("chat event failed", zap.String("event", event), zap.String("subject_id", subjectID), zap.Error(err))
	}
	g.emit(c, dto.OutboundEvent{Event: dto.EventError, Data: dto.ErrorPayload{
		Code:      appErr.Code,
		Message:   appErr.Message,
		Event:     event,
		SubjectID: subjectID,
	}})
}

func (g *Gateway) emit(c *Client, out dto.OutboundEvent) {
	frame, err := json.Marshal(out)
	if err != nil {
		c.logger.Error("encode outbound event", zap.String("event", out.Event), zap.Error(err))
		return
	}
	c.Enqueue(frame)
}

// presenceCall runs a best-effort presence update; failures are only logged.
func (g *Gateway) presenceCall(fn func(ctx context.Context) error) {
	if g.presence == nil || !g.presence.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.OperationTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		g.logger.Warn("presence update failed", zap.Error(err))
	}
}

func (g *Gateway) updateGauges() {
	rooms, _ := g.registry.Stats()
	g.metrics.SetChatGauges(rooms, g.Connections())
}

// sameIdentity checks optional payload identity fields against the session.
func sameIdentity(identity models.Identity, userID dto.ID, userType string) bool {
	if userID != "" && string(userID) != identity.UserID {
		return false
	}
	if userType != "" && userType != string(identity.Role) {
		return false
	}
	return true
}
