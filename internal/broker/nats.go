package broker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// marshalEnvelope encodes an envelope for the external bus.
func marshalEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// NATSBus forwards envelopes to a NATS server. It satisfies [ExternalBus]
// and reconnects automatically through the client's own retry logic.
type NATSBus struct {
	conn *nats.Conn
}

// Compile-time interface check.
var _ ExternalBus = (*NATSBus)(nil)

// DialNATS connects to the NATS server at url. The connection retries with
// the client defaults and logs disconnect/reconnect transitions.
func DialNATS(url string) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("broker: nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("broker: nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: connect nats %q: %w", url, err)
	}
	return &NATSBus{conn: conn}, nil
}

// Publish implements [ExternalBus.Publish].
func (b *NATSBus) Publish(subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("broker: nats publish %q: %w", subject, err)
	}
	return nil
}

// IsConnected implements [ExternalBus.IsConnected].
func (b *NATSBus) IsConnected() bool {
	return b.conn.IsConnected()
}

// Close drains and closes the connection.
func (b *NATSBus) Close() {
	if err := b.conn.Drain(); err != nil {
		slog.Warn("broker: nats drain failed", "err", err)
	}
}
