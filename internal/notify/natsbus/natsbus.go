// Package natsbus publishes catalog events to a NATS subject so other
// services can react to new targets without polling the catalog.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/sdtom/internal/jobs"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "sdtom.target.created"

type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// Publisher sends TargetEvents as JSON messages.
type Publisher struct {
	conn    conn
	subject string
}

// Connect dials url and returns a Publisher for subject.
func Connect(url, subject string) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("sdtom"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: connect %s: %w", url, err)
	}
	return newPublisher(nc, subject), nil
}

func newPublisher(c conn, subject string) *Publisher {
	if c == nil {
		panic(xerrors.New("natsbus: nil connection"))
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: c, subject: subject}
}

// Subject returns the subject events are published on.
func (p *Publisher) Subject() string { return p.subject }

// TargetCreated publishes ev on the configured subject.
func (p *Publisher) TargetCreated(ctx context.Context, ev *jobs.TargetEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("natsbus: publish %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
	p.conn.Close()
}

type envelope struct {
	Type  string            `json:"type"`
	Event *jobs.TargetEvent `json:"event"`
}

func encode(ev *jobs.TargetEvent) ([]byte, error) {
	data, err := json.Marshal(envelope{Type: "target.created", Event: ev})
	if err != nil {
		return nil, fmt.Errorf("natsbus: marshal event: %w", err)
	}
	return data, nil
}
