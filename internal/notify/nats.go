package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// natsConn is the slice of *nats.Conn that the publisher uses.
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSNotifier publishes events to NATS subjects. Subjects are scoped per
// workflow so subscribers can follow a single workflow or wildcard the whole
// stream.
type NATSNotifier struct {
	conn          natsConn
	subjectPrefix string
	logger        *zap.Logger
}

// NewNATSNotifier connects to a NATS server and returns a notifier publishing
// under the given subject prefix.
func NewNATSNotifier(url, subjectPrefix string, logger *zap.Logger) (*NATSNotifier, error) {
	conn, err := nats.Connect(url,
		nats.Name("qcflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect to nats: %w", err)
	}
	return &NATSNotifier{conn: conn, subjectPrefix: subjectPrefix, logger: logger}, nil
}

// Publish serializes the event and publishes it. Failures are logged and
// dropped.
func (n *NATSNotifier) Publish(_ context.Context, evt Event) {
	subject := subjectFor(n.subjectPrefix, evt)
	data, err := json.Marshal(evt)
	if err != nil {
		n.logger.Error("serialize workflow event",
			zap.String("event_type", evt.Type),
			zap.String("workflow_id", evt.WorkflowID),
			zap.Error(err))
		return
	}
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Warn("publish workflow event",
			zap.String("subject", subject),
			zap.String("event_type", evt.Type),
			zap.String("workflow_id", evt.WorkflowID),
			zap.Error(err))
	}
}

// Close drains the connection, flushing buffered publishes.
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}

func subjectFor(prefix string, evt Event) string {
	return fmt.Sprintf("%s.workflows.%s", prefix, evt.WorkflowID)
}
