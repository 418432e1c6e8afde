package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/pulsegate/pulsegate/core/infra/bus"
	"github.com/pulsegate/pulsegate/core/infra/config"
	"github.com/pulsegate/pulsegate/core/infra/logging"
	infraMetrics "github.com/pulsegate/pulsegate/core/infra/metrics"
	"github.com/pulsegate/pulsegate/core/infra/redisutil"
	"github.com/pulsegate/pulsegate/core/infra/schema"
	"github.com/pulsegate/pulsegate/core/infra/store"
)

const (
	closePolicyViolation = websocket.ClosePolicyViolation // 1008
	closeInternalError   = websocket.CloseInternalServerErr
	writeTimeout         = 10 * time.Second

	// Bus subjects. EVENT envelopes ride events.<type>.<id>.<name>; the
	// control plane publishes revocations and maintenance under sys.notice.
	busEventPrefix   = "events."
	busNoticeSubject = "sys.notice.>"
)

// Bus is the fan-out backbone. With a connected bus, EVENT frames reach the
// subscribers of every gateway instance; without one, delivery is local only.
type Bus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject, queue string, handler func(subject string, data []byte)) error
	IsConnected() bool
}

// Options wires a Gateway. Metrics defaults to Noop; Bus and Redis may be nil.
type Options struct {
	Config   *config.Config
	Resolver Resolver
	Ingest   *IngestProcessor
	Events   *store.EventStore
	Cursors  *store.CursorStore
	Bus      Bus
	Metrics  infraMetrics.GatewayMetrics
	Redis    redis.UniversalClient
}

// Gateway orchestrates the realtime event service: it authenticates sockets,
// drives the per-connection processing loop, and fans events out to channel
// subscribers.
type Gateway struct {
	cfg      *config.Config
	resolver Resolver
	registry *Registry
	channels *ChannelManager
	ingest   *IngestProcessor
	events   *store.EventStore
	cursors  *store.CursorStore
	bus      Bus
	metrics  infraMetrics.GatewayMetrics
	redis    redis.UniversalClient
	started  time.Time

	stopSweeper func()
}

func New(opts Options) *Gateway {
	m := opts.Metrics
	if m == nil {
		m = infraMetrics.Noop{}
	}
	return &Gateway{
		cfg:      opts.Config,
		resolver: opts.Resolver,
		registry: NewRegistry(),
		channels: NewChannelManager(),
		ingest:   opts.Ingest,
		events:   opts.Events,
		cursors:  opts.Cursors,
		bus:      opts.Bus,
		metrics:  m,
		redis:    opts.Redis,
		started:  time.Now(),
	}
}

// Registry exposes the connection registry for liveness inspection.
func (g *Gateway) Registry() *Registry { return g.registry }

// Channels exposes the channel manager for subscription inspection.
func (g *Gateway) Channels() *ChannelManager { return g.channels }

// Start launches the heartbeat sweeper and bus subscriptions.
func (g *Gateway) Start() error {
	g.stopSweeper = g.registry.StartSweeper(g.cfg.HeartbeatInterval, g.cfg.HeartbeatTimeout, g.evictIdle)
	if g.bus == nil {
		return nil
	}
	if err := g.bus.Subscribe(busEventPrefix+">", "", g.handleBusEvent); err != nil {
		return err
	}
	if err := g.bus.Subscribe(busNoticeSubject, "", g.handleBusNotice); err != nil {
		return err
	}
	return nil
}

// Stop halts the sweeper and closes every live connection.
func (g *Gateway) Stop() {
	if g.stopSweeper != nil {
		g.stopSweeper()
	}
	for _, c := range g.registry.All() {
		g.teardown(c)
		c.Close(websocket.CloseGoingAway, "gateway shutting down")
	}
}

// Handler returns the gateway's HTTP surface: /ws and /health.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/health", g.handleHealth)
	return mux
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// CheckOrigin is replaced per gateway in handleWS via allowedOrigin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	if !allowedOrigin(r, g.cfg.AllowedOrigins) {
		g.metrics.IncAuthFailure()
		http.Error(w, CodeNetworkDenied, http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(g.cfg.MaxFrameBytes)

	creds := CredentialsFromQuery(r.URL.Query())
	identity, err := g.resolver.Authenticate(r.Context(), creds)
	if err != nil {
		g.metrics.IncAuthFailure()
		logging.Warn("gateway", "authentication rejected", "remote", r.RemoteAddr, "error", err)
		deadline := time.Now().Add(2 * time.Second)
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closePolicyViolation, err.Error()), deadline)
		_ = ws.Close()
		return
	}

	conn := newConn(uuid.NewString(), *identity, ws, newTokenBucket(g.cfg.IngestRPS, g.cfg.IngestBurst))
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return nil
	})

	g.registry.Add(conn)
	g.metrics.ConnOpened()
	go g.writePump(conn)

	accepted := g.subscribeRequested(conn, r.URL.Query().Get("channels"))
	g.send(conn, newReady(accepted))
	logging.Info("gateway", "connection ready", "conn", conn.ID, "org", identity.OrgID, "user", identity.UserID, "channels", len(accepted))

	g.readLoop(conn)
}

// subscribeRequested filters the connect-time channel list down to valid,
// authorized names and subscribes them.
func (g *Gateway) subscribeRequested(conn *Conn, raw string) []string {
	accepted := []string{}
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := ParseChannel(name); err != nil {
			continue
		}
		if !PatternsAllow(conn.Identity.Patterns, name) {
			continue
		}
		accepted = append(accepted, name)
	}
	g.channels.Subscribe(conn.ID, accepted)
	return accepted
}

func (g *Gateway) readLoop(conn *Conn) {
	defer func() {
		g.teardown(conn)
		conn.Close(websocket.CloseNormalClosure, "")
	}()
	ctx := context.Background()
	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("gateway", "read loop ended", "conn", conn.ID, "error", err)
			}
			if err == websocket.ErrReadLimit {
				g.metrics.IncEviction("frame_too_large")
				conn.Close(websocket.CloseMessageTooBig, "frame exceeds limit")
			}
			return
		}
		conn.Touch()
		frame, fe := ParseClientFrame(raw)
		if fe != nil {
			g.metrics.IncFrame("invalid")
			g.send(conn, newError(fe))
			continue
		}
		g.metrics.IncFrame(frame.frameType())
		g.dispatch(ctx, conn, frame)
	}
}

// dispatch handles one inbound frame. The switch is exhaustive over every
// ClientFrame variant; ParseClientFrame already rejected unknown types.
func (g *Gateway) dispatch(ctx context.Context, conn *Conn, frame ClientFrame) {
	switch f := frame.(type) {
	case PingFrame:
		g.send(conn, newPong(f.T, time.Now().UnixMilli()))
	case SubFrame:
		g.handleSub(conn, f)
	case UnsubFrame:
		g.channels.Unsubscribe(conn.ID, f.Channels)
		g.send(conn, newSubAck(TypeUnsubAck, f.Channels))
	case ResumeFrame:
		g.handleResume(ctx, conn, f)
	case IngestFrame:
		g.handleIngest(ctx, conn, f)
	case AckClientFrame:
		g.handleClientAck(ctx, conn, f)
	}
}

func (g *Gateway) handleSub(conn *Conn, frame SubFrame) {
	accepted := []string{}
	for _, name := range frame.Channels {
		if _, err := ParseChannel(name); err != nil {
			g.send(conn, newError(&FrameError{Code: CodeInvalidChannel, Detail: err.Error(), Channel: name}))
			continue
		}
		if !PatternsAllow(conn.Identity.Patterns, name) {
			g.send(conn, newError(&FrameError{Code: CodeACLDenied, Detail: "channel not authorized", Channel: name}))
			continue
		}
		accepted = append(accepted, name)
	}
	g.channels.Subscribe(conn.ID, accepted)
	g.send(conn, newSubAck(TypeSubAck, accepted))
}

func (g *Gateway) handleResume(ctx context.Context, conn *Conn, frame ResumeFrame) {
	for name, cursor := range frame.Cursors {
		if _, err := ParseChannel(name); err != nil {
			g.send(conn, newError(&FrameError{Code: CodeInvalidChannel, Detail: err.Error(), Channel: name}))
			continue
		}
		if !PatternsAllow(conn.Identity.Patterns, name) {
			g.send(conn, newError(&FrameError{Code: CodeACLDenied, Detail: "channel not authorized", Channel: name}))
			continue
		}
		records, err := g.events.ListAfter(ctx, name, cursor, g.cfg.ReplayLimit)
		if err != nil {
			g.send(conn, newError(&FrameError{Code: CodeIngestProcessing, Detail: "replay failed", Channel: name}))
			continue
		}
		for _, record := range records {
			g.send(conn, newEvent(record.Channel, record.Cursor, record.Data))
		}
	}
}

func (g *Gateway) handleIngest(ctx context.Context, conn *Conn, frame IngestFrame) {
	if !conn.limiter.Allow() {
		g.send(conn, newError(&FrameError{Code: CodeRateLimit, Detail: "ingest rate exceeded", Channel: frame.Channel}))
		return
	}
	channel, err := ParseChannel(frame.Channel)
	if err != nil {
		g.send(conn, newError(&FrameError{Code: CodeInvalidChannel, Detail: err.Error(), Channel: frame.Channel}))
		return
	}
	if !PatternsAllow(conn.Identity.Patterns, frame.Channel) {
		g.send(conn, newError(&FrameError{Code: CodeACLDenied, Detail: "channel not authorized", Channel: frame.Channel}))
		return
	}
	result, fe := g.ingest.Process(ctx, conn.Identity, channel, frame)
	if fe != nil {
		g.send(conn, newError(fe))
		return
	}
	g.send(conn, newAck(result.ID, result.Cursor, result.WasDedup))
	if !result.WasDedup {
		g.broadcast(frame.Channel, newEvent(frame.Channel, result.Cursor, frame.Data))
	}
}

func (g *Gateway) handleClientAck(ctx context.Context, conn *Conn, frame AckClientFrame) {
	consumer := conn.Identity.KeyID
	if consumer == "" {
		consumer = conn.Identity.UserID
	}
	if err := g.cursors.Set(ctx, conn.Identity.OrgID, consumer, frame.Channel, frame.Cursor); err != nil {
		logging.Warn("gateway", "cursor update failed", "conn", conn.ID, "channel", frame.Channel, "error", err)
	}
}

// broadcast fans an EVENT out to subscribers. With a connected bus the frame
// is published once and every instance, this one included, delivers it from
// the bus subscription; otherwise delivery is direct.
func (g *Gateway) broadcast(channel string, frame EventFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error("gateway", "event marshal failed", "channel", channel, "error", err)
		return
	}
	if g.bus != nil && g.bus.IsConnected() {
		if err := g.bus.Publish(subjectForChannel(channel), data); err == nil {
			return
		}
		logging.Warn("gateway", "bus publish failed, delivering locally", "channel", channel)
	}
	g.deliverLocal(channel, data)
}

func (g *Gateway) deliverLocal(channel string, data []byte) {
	for _, connID := range g.channels.Subscribers(channel) {
		c := g.registry.Get(connID)
		if c == nil {
			continue
		}
		if !c.Enqueue(data) {
			g.evictSlow(c)
			continue
		}
		g.metrics.IncBroadcast()
	}
}

func (g *Gateway) handleBusEvent(_ string, data []byte) {
	var frame EventFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != TypeEvent || frame.Channel == "" {
		return
	}
	g.deliverLocal(frame.Channel, data)
}

// busNotice is the control-plane notice envelope on sys.notice subjects.
type busNotice struct {
	Code   string `json:"code"`
	OrgID  string `json:"orgId"`
	KeyID  string `json:"keyId,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (g *Gateway) handleBusNotice(_ string, data []byte) {
	var notice busNotice
	if err := json.Unmarshal(data, &notice); err != nil || notice.Code == "" {
		return
	}
	frameData, err := json.Marshal(newNotice(notice.Code, notice.KeyID, notice.Reason))
	if err != nil {
		return
	}
	for _, c := range g.registry.ByOrg(notice.OrgID) {
		if !c.Enqueue(frameData) {
			g.evictSlow(c)
		}
	}
	if notice.Code == NoticeRevoke && notice.KeyID != "" {
		for _, c := range g.registry.ByKey(notice.KeyID) {
			g.teardown(c)
			c.Close(closePolicyViolation, "api key revoked")
			g.metrics.IncEviction("revoked")
		}
	}
}

func (g *Gateway) writePump(conn *Conn) {
	for {
		select {
		case data := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				g.teardown(conn)
				conn.Close(closeInternalError, "write failed")
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (g *Gateway) send(conn *Conn, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error("gateway", "frame marshal failed", "conn", conn.ID, "error", err)
		return
	}
	if !conn.Enqueue(data) {
		g.evictSlow(conn)
	}
}

// teardown removes the connection from the registry and channel index. It is
// synchronous with close handling: once it returns, no broadcast will target
// this connection. Safe to call more than once.
func (g *Gateway) teardown(conn *Conn) {
	if g.registry.Remove(conn.ID) == nil {
		return
	}
	g.channels.UnsubscribeAll(conn.ID)
	g.metrics.ConnClosed()
	logging.Info("gateway", "connection closed", "conn", conn.ID, "org", conn.Identity.OrgID, "frames", conn.MessageCount())
}

func (g *Gateway) evictIdle(conn *Conn) {
	g.teardown(conn)
	conn.Close(closePolicyViolation, "heartbeat timeout")
	g.metrics.IncEviction("heartbeat")
}

func (g *Gateway) evictSlow(conn *Conn) {
	g.teardown(conn)
	conn.Close(closePolicyViolation, "client too slow")
	g.metrics.IncEviction("slow_client")
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "disabled"
	if g.redis != nil {
		redisStatus = "ok"
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := g.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "error"
		}
	}
	busStatus := "disabled"
	if g.bus != nil {
		if g.bus.IsConnected() {
			busStatus = "connected"
		} else {
			busStatus = "disconnected"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(g.started).Seconds()),
		"connections":    g.registry.Count(),
		"redis":          redisStatus,
		"bus":            busStatus,
	})
}

// subjectForChannel maps a channel name onto a bus subject:
// org:ORG1:decisions -> events.org.ORG1.decisions.
func subjectForChannel(channel string) string {
	return busEventPrefix + strings.ReplaceAll(channel, ":", ".")
}

// allowedOrigin applies the configured origin policy. Non-browser clients
// omit Origin and are allowed. An empty allow list admits localhost and the
// request host; "*" admits everything.
func allowedOrigin(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if len(allowed) == 0 {
		host := strings.ToLower(u.Hostname())
		switch host {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		return host == strings.ToLower(requestHostname(r.Host))
	}
	for _, entry := range allowed {
		if entry == "*" || entry == origin {
			return true
		}
	}
	return false
}

func requestHostname(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if host, _, err := net.SplitHostPort(hostport); err == nil && host != "" {
		return host
	}
	return hostport
}

// Run wires the full gateway from configuration and serves until the HTTP
// listener fails.
func Run(cfg *config.Config) error {
	client, err := redisutil.NewClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	err = client.Ping(ctx).Err()
	cancel()
	if err != nil {
		return err
	}

	registry := schema.NewRegistry(client)
	validator, err := schema.NewValidator(registry)
	if err != nil {
		return err
	}

	staticKeys, err := config.LoadStaticKeys(cfg.StaticKeysPath)
	if err != nil {
		return err
	}
	resolvers := ChainResolver{}
	if len(staticKeys) > 0 {
		resolvers = append(resolvers, NewStaticResolver(staticKeys))
		logging.Info("gateway", "static keys loaded", "count", len(staticKeys))
	}
	resolvers = append(resolvers, NewRedisResolver(store.NewCredStore(client)))

	var eventBus Bus
	if !cfg.BusDisabled {
		natsBus, err := bus.New(cfg.NatsURL)
		if err != nil {
			logging.Warn("gateway", "bus unavailable, running single-instance", "url", cfg.NatsURL, "error", err)
		} else {
			eventBus = natsBus
			logging.Info("gateway", "bus connected", "url", natsBus.ConnectedURL())
		}
	}

	m := infraMetrics.NewProm("pulsegate")
	events := store.NewEventStore(client)
	g := New(Options{
		Config:   cfg,
		Resolver: resolvers,
		Ingest:   NewIngestProcessor(validator, events, store.NewMarkerStore(client), store.NewDLQStore(client), m),
		Events:   events,
		Cursors:  store.NewCursorStore(client),
		Bus:      eventBus,
		Metrics:  m,
		Redis:    client,
	})
	if err := g.Start(); err != nil {
		return err
	}
	defer g.Stop()

	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", infraMetrics.Handler())
		srv := &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		logging.Info("gateway", "metrics listening", "addr", cfg.MetricsAddr+"/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("gateway", "metrics server error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     g.Handler(),
		ReadTimeout: 0, // websocket connections are long-lived
		IdleTimeout: 0,
	}
	logging.Info("gateway", "listening", "addr", cfg.HTTPAddr)
	return srv.ListenAndServe()
}
