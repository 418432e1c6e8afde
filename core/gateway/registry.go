package gateway

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 64

// Conn is a live transport session owned by the Registry from successful
// authentication until close.
type Conn struct {
	ID       string
	Identity Identity

	ws          *websocket.Conn
	send        chan []byte
	closed      chan struct{}
	closeOnce   sync.Once
	limiter     *tokenBucket
	connectedAt time.Time

	mu           sync.Mutex
	lastSeen     time.Time
	messageCount int64
}

func newConn(id string, identity Identity, ws *websocket.Conn, limiter *tokenBucket) *Conn {
	now := time.Now()
	return &Conn{
		ID:          id,
		Identity:    identity,
		ws:          ws,
		send:        make(chan []byte, sendBufferSize),
		closed:      make(chan struct{}),
		limiter:     limiter,
		connectedAt: now,
		lastSeen:    now,
	}
}

// Touch records inbound activity for the liveness sweeper.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.messageCount++
	c.mu.Unlock()
}

// LastSeen returns the time of the most recent inbound activity.
func (c *Conn) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// MessageCount returns the number of inbound frames handled so far.
func (c *Conn) MessageCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messageCount
}

// Enqueue hands a frame to the connection's writer without blocking. It
// returns false when the connection is closed or its buffer is full; a full
// buffer marks the client as too slow to keep.
func (c *Conn) Enqueue(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Ping sends a websocket ping control frame.
func (c *Conn) Ping() error {
	if c.ws == nil {
		return nil
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Close sends a close frame with the given code and reason, then tears down
// the transport. Safe to call from any goroutine, any number of times.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.ws != nil {
			deadline := time.Now().Add(2 * time.Second)
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
			_ = c.ws.Close()
		}
	})
}

// Done reports connection teardown to writer goroutines.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Registry owns the set of live connections plus the org and user indices.
// One mutex guards all three maps so a connection can never be present in one
// index and missing from another.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*Conn
	byOrg  map[string]map[string]*Conn
	byUser map[string]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[string]*Conn),
		byOrg:  make(map[string]map[string]*Conn),
		byUser: make(map[string]map[string]*Conn),
	}
}

// Add registers a connection under its id, org, and user.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID] = c
	addIndexed(r.byOrg, c.Identity.OrgID, c)
	addIndexed(r.byUser, c.Identity.UserID, c)
}

// Remove deregisters a connection from every index. Returns the removed
// connection, or nil when already gone.
func (r *Registry) Remove(id string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	removeIndexed(r.byOrg, c.Identity.OrgID, id)
	removeIndexed(r.byUser, c.Identity.UserID, id)
	return c
}

// Get returns the connection with the given id, or nil.
func (r *Registry) Get(id string) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[id]
}

// ByOrg returns a snapshot of an org's live connections.
func (r *Registry) ByOrg(orgID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.byOrg[orgID])
}

// ByUser returns a snapshot of a user's live connections.
func (r *Registry) ByUser(userID string) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.byUser[userID])
}

// ByKey returns connections authenticated with the given key id.
func (r *Registry) ByKey(keyID string) []*Conn {
	if keyID == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Conn
	for _, c := range r.conns {
		if c.Identity.KeyID == keyID {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// StartSweeper runs the heartbeat loop: connections idle beyond half the
// timeout are pinged, connections idle beyond the full timeout are handed to
// evict. Returns a stop function.
func (r *Registry) StartSweeper(interval, timeout time.Duration, evict func(*Conn)) func() {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(timeout, evict)
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}

func (r *Registry) sweep(timeout time.Duration, evict func(*Conn)) {
	now := time.Now()
	for _, c := range r.All() {
		idle := now.Sub(c.LastSeen())
		switch {
		case idle > timeout:
			evict(c)
		case idle > timeout/2:
			_ = c.Ping()
		}
	}
}

func addIndexed(index map[string]map[string]*Conn, key string, c *Conn) {
	if key == "" {
		return
	}
	set := index[key]
	if set == nil {
		set = make(map[string]*Conn)
		index[key] = set
	}
	set[c.ID] = c
}

func removeIndexed(index map[string]map[string]*Conn, key, id string) {
	if set, ok := index[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(index, key)
		}
	}
}

func snapshot(set map[string]*Conn) []*Conn {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}
