package gateway

import (
	"fmt"
	"strings"
	"sync"
)

// Channel kinds. The id segment scopes the channel to an org, user, or key.
const (
	ChannelOrg  = "org"
	ChannelUser = "user"
	ChannelKey  = "key"
)

// Channel is the parsed form of a `type:id:name` channel string. Channels are
// never persisted; their only identity is the string key in the subscriber
// index.
type Channel struct {
	Kind string
	ID   string
	Name string
}

func (c Channel) String() string {
	return c.Kind + ":" + c.ID + ":" + c.Name
}

// ParseChannel validates the strict three-segment channel form.
func ParseChannel(raw string) (Channel, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return Channel{}, fmt.Errorf("channel must have exactly three segments: %q", raw)
	}
	kind, id, name := parts[0], parts[1], parts[2]
	switch kind {
	case ChannelOrg, ChannelUser, ChannelKey:
	default:
		return Channel{}, fmt.Errorf("channel type must be org, user, or key: %q", raw)
	}
	if id == "" || name == "" {
		return Channel{}, fmt.Errorf("channel id and name must be non-empty: %q", raw)
	}
	return Channel{Kind: kind, ID: id, Name: name}, nil
}

// MatchesPattern reports whether channel matches an authorized pattern.
// A pattern ending in ":*" matches by prefix; anything else by equality.
func MatchesPattern(pattern, channel string) bool {
	if strings.HasSuffix(pattern, ":*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}

// PatternsAllow reports whether any authorized pattern matches the channel.
func PatternsAllow(patterns []string, channel string) bool {
	for _, pattern := range patterns {
		if MatchesPattern(pattern, channel) {
			return true
		}
	}
	return false
}

// ChannelManager tracks which connections subscribe to which channels. It does
// not authorize; the orchestrator checks patterns before calling Subscribe.
type ChannelManager struct {
	mu     sync.Mutex
	subs   map[string]map[string]struct{} // channel -> conn ids
	byConn map[string]map[string]struct{} // conn id -> channels
}

func NewChannelManager() *ChannelManager {
	return &ChannelManager{
		subs:   make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Subscribe records the associations. Already-subscribed channels are no-ops.
func (m *ChannelManager) Subscribe(connID string, channels []string) {
	if connID == "" || len(channels) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, channel := range channels {
		if channel == "" {
			continue
		}
		set := m.subs[channel]
		if set == nil {
			set = make(map[string]struct{})
			m.subs[channel] = set
		}
		set[connID] = struct{}{}

		byConn := m.byConn[connID]
		if byConn == nil {
			byConn = make(map[string]struct{})
			m.byConn[connID] = byConn
		}
		byConn[channel] = struct{}{}
	}
}

// Unsubscribe removes associations, dropping empty channel entries.
func (m *ChannelManager) Unsubscribe(connID string, channels []string) {
	if connID == "" || len(channels) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, channel := range channels {
		m.removeLocked(connID, channel)
	}
}

// UnsubscribeAll removes every subscription held by the connection.
func (m *ChannelManager) UnsubscribeAll(connID string) {
	if connID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel := range m.byConn[connID] {
		m.removeLocked(connID, channel)
	}
}

func (m *ChannelManager) removeLocked(connID, channel string) {
	if set, ok := m.subs[channel]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(m.subs, channel)
		}
	}
	if byConn, ok := m.byConn[connID]; ok {
		delete(byConn, channel)
		if len(byConn) == 0 {
			delete(m.byConn, connID)
		}
	}
}

// Subscribers returns a snapshot of connection ids subscribed to a channel.
func (m *ChannelManager) Subscribers(channel string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.subs[channel]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for connID := range set {
		out = append(out, connID)
	}
	return out
}

// Channels returns a snapshot of channels held by a connection.
func (m *ChannelManager) Channels(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.byConn[connID]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for channel := range set {
		out = append(out, channel)
	}
	return out
}
