package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the subset of *nats.Conn used by NATSEmitter.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSEmitter publishes events as JSON on <prefix>.<worker_type>.<new_state>.
type NATSEmitter struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
}

// NewNATSEmitter wraps an existing publisher.
func NewNATSEmitter(pub Publisher, prefix string) *NATSEmitter {
	return &NATSEmitter{pub: pub, prefix: prefix}
}

// ConnectNATS dials url and returns an emitter owning the connection. The
// client reconnects forever; publishes while disconnected are buffered by
// the client.
func ConnectNATS(url, prefix, name string) (*NATSEmitter, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	e := NewNATSEmitter(nc, prefix)
	e.conn = nc
	return e, nil
}

// Subject returns the subject an event is published on.
func (n *NATSEmitter) Subject(e Event) string {
	return strings.Join([]string{n.prefix, subjectToken(e.WorkerType), subjectToken(string(e.NewState))}, ".")
}

// Emit implements Emitter.
func (n *NATSEmitter) Emit(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := n.pub.Publish(n.Subject(e), payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains the owned connection, if any.
func (n *NATSEmitter) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// subjectToken lowercases s and replaces the NATS token separator so worker
// names such as "blazar.physical_host" stay a single token.
func subjectToken(s string) string {
	return strings.ToLower(strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(s))
}
