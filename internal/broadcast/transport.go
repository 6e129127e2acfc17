package broadcast

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Transport is the lightweight pub/sub channel carrying ephemeral
// streaming updates. Delivery is best-effort: no persistence, no
// acknowledgement, no ordering guarantee beyond last-delivered-wins.
type Transport interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, fn func(data []byte)) (func(), error)
}

// natsTransport carries broadcasts over core NATS subjects.
type natsTransport struct {
	conn *nats.Conn
}

// NewNATSTransport wraps a core NATS connection as a Transport.
func NewNATSTransport(conn *nats.Conn) Transport {
	return &natsTransport{conn: conn}
}

func (t *natsTransport) Publish(subject string, data []byte) error {
	return t.conn.Publish(subject, data)
}

func (t *natsTransport) Subscribe(subject string, fn func(data []byte)) (func(), error) {
	sub, err := t.conn.Subscribe(subject, func(m *nats.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// streamSubject scopes broadcasts to one user's sessions.
func streamSubject(userID string) string {
	return fmt.Sprintf("sync.stream.%s", userID)
}
