// Package trigger starts ingestion runs from NATS messages. Every message on
// the subject starts one run; the payload is ignored.
package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/catvault/catvault/pkg/db"
	"github.com/catvault/catvault/pkg/errors"
	"github.com/catvault/catvault/pkg/jobs"
	"github.com/nats-io/nats.go"
)

// Submitter starts ingestion runs.
type Submitter interface {
	Submit(ctx context.Context, source string) (*db.Run, error)
}

// Reply is sent back when the message carries a reply subject.
type Reply struct {
	JobID string `json:"jobId,omitempty"`
	Error string `json:"error,omitempty"`
}

// Trigger subscribes to a subject and submits a run per message.
type Trigger struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	subject string
	jobs    Submitter
}

// New creates a trigger without a connection. Use Connect to subscribe.
func New(subject string, submitter Submitter) *Trigger {
	return &Trigger{subject: subject, jobs: submitter}
}

// Connect dials url and subscribes to the trigger subject.
func (t *Trigger) Connect(url string) error {
	slog.Info("nats_connect", "url", url, "subject", t.subject)

	conn, err := nats.Connect(url,
		nats.Name("catvault"),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats_reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.E(errors.KindNetwork, "connect to NATS", err)
	}

	sub, err := conn.Subscribe(t.subject, t.handle)
	if err != nil {
		conn.Close()
		return errors.E(errors.KindNetwork, "subscribe to "+t.subject, err)
	}

	t.conn = conn
	t.sub = sub
	slog.Info("nats_subscribed", "subject", t.subject)
	return nil
}

// Close drains the subscription and closes the connection.
func (t *Trigger) Close() {
	if t.conn == nil {
		return
	}
	if err := t.conn.Drain(); err != nil {
		slog.Warn("nats_drain_failed", "error", err)
	}
	t.conn.Close()
}

func (t *Trigger) handle(msg *nats.Msg) {
	slog.Info("nats_trigger_received", "subject", msg.Subject, "size", len(msg.Data))

	var reply Reply
	run, err := t.jobs.Submit(context.Background(), jobs.SourceQueue)
	if err != nil {
		slog.Error("nats_trigger_submit_failed", "subject", msg.Subject, "error", err)
		reply.Error = err.Error()
	} else {
		reply.JobID = run.ID
	}

	if msg.Reply == "" {
		return
	}
	body, err := json.Marshal(reply)
	if err != nil {
		slog.Error("nats_reply_encode_failed", "error", err)
		return
	}
	if err := msg.Respond(body); err != nil {
		slog.Warn("nats_reply_failed", "reply", msg.Reply, "error", err)
	}
}
