// Package notify publishes finished transfer jobs on NATS JetStream.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const streamName = "DOCKWORKER"

// Event is the payload published for every finished job.
type Event struct {
	JobID      int64     `json:"job_id"`
	State      string    `json:"state"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	DistinctID string    `json:"distinct_id"`
	RunID      int64     `json:"run_id,omitempty"`
	RunNumber  int64     `json:"run_number,omitempty"`
	Conclusion string    `json:"conclusion,omitempty"`
	Image      string    `json:"image,omitempty"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher wraps a NATS JetStream connection.
type Publisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// New connects to url and makes sure a stream captures <subject>.>.
func New(url, subject string, opts ...nats.Option) (*Publisher, error) {
	if subject == "" {
		return nil, errors.New("notify subject is empty")
	}
	nc, err := nats.Connect(url, append([]nats.Option{nats.Name("dockworker")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	p := &Publisher{conn: nc, js: js, subject: subject}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	wildcard := p.subject + ".>"
	_, err := p.js.StreamInfo(streamName)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = p.js.AddStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{wildcard},
			MaxAge:   7 * 24 * time.Hour,
		})
	}
	if err != nil {
		return fmt.Errorf("ensuring stream %s: %w", streamName, err)
	}
	return nil
}

// Publish sends ev to <subject>.<state>.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := p.js.Publish(Subject(p.subject, ev.State), data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publishing job %d: %w", ev.JobID, err)
	}
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Subject builds the per-state subject. Characters NATS treats as token
// separators or wildcards are replaced in state.
func Subject(prefix, state string) string {
	state = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(state)
	if state == "" {
		state = "unknown"
	}
	return prefix + "." + state
}
