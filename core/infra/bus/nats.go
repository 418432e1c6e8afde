package bus

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/pulsegate/pulsegate/core/infra/logging"
)

// NatsBus is a thin wrapper over a NATS connection carrying JSON payloads.
// The gateway uses it for cross-instance EVENT fan-out and for control-plane
// notices (key revocations, maintenance windows).
type NatsBus struct {
	nc *nats.Conn
}

var (
	errNilBus      = errors.New("nats bus not initialized")
	errEmptySubj   = errors.New("empty subject")
	errNilHandler  = errors.New("nil handler")
	errEmptyPacket = errors.New("empty payload")
)

// New dials NATS at the provided URL with unlimited reconnects.
func New(url string) (*NatsBus, error) {
	opts := []nats.Option{
		nats.Name("pulsegate-bus"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.Warn("bus", "disconnected from nats", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info("bus", "reconnected to nats", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logging.Info("bus", "connection closed")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &NatsBus{nc: nc}, nil
}

// Close shuts down the underlying NATS connection.
func (b *NatsBus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}

// Publish sends a payload on the given subject.
func (b *NatsBus) Publish(subject string, data []byte) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptySubj
	}
	if len(data) == 0 {
		return errEmptyPacket
	}
	return b.nc.Publish(subject, data)
}

// Subscribe attaches a handler to a subject. An empty queue means plain
// fan-out; a queue name shares delivery across instances of the same group.
func (b *NatsBus) Subscribe(subject, queue string, handler func(subject string, data []byte)) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if subject == "" {
		return errEmptySubj
	}
	if handler == nil {
		return errNilHandler
	}
	cb := func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	}
	if queue == "" {
		_, err := b.nc.Subscribe(subject, cb)
		return err
	}
	_, err := b.nc.QueueSubscribe(subject, queue, cb)
	return err
}

// IsConnected reports connection liveness for health checks.
func (b *NatsBus) IsConnected() bool {
	return b != nil && b.nc != nil && b.nc.IsConnected()
}

// ConnectedURL returns the URL of the active server, if any.
func (b *NatsBus) ConnectedURL() string {
	if b == nil || b.nc == nil {
		return ""
	}
	return b.nc.ConnectedUrl()
}
