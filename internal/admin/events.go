package admin

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects EventPublisher fans events out on.
const (
	SubjectDeadLetter = "sms.deadletter"
	SubjectDelivered  = "sms.delivered"
)

// EventPublisher fans out pipeline terminal outcomes to external
// subscribers (webhooks, monitoring) over NATS, so operators can react to a
// dead-lettered or delivered request without polling the database. Publishes
// are fire-and-forget: the pipeline outcome is already decided and persisted
// by the time an event goes out.
type EventPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewEventPublisher connects to natsURL. If the connection fails it returns a
// nil *EventPublisher together with the error. The Publish methods and Close
// are no-ops on a nil receiver.
func NewEventPublisher(natsURL string, logger *zap.Logger) (*EventPublisher, error) {
	conn, err := nats.Connect(natsURL,
		nats.Name("sms-gateway-admin"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("admin events: nats disconnected", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("admin: connect nats: %w", err)
	}
	return &EventPublisher{conn: conn, logger: logger}, nil
}

// Close releases the underlying NATS connection.
func (p *EventPublisher) Close() {
	if p != nil && p.conn != nil {
		p.conn.Close()
	}
}

type deadLetterEvent struct {
	RequestID string    `json:"request_id"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

type deliveredEvent struct {
	RequestID  string    `json:"request_id"`
	ProviderID string    `json:"provider_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishDeadLetter fans out a terminal dead-letter outcome.
func (p *EventPublisher) PublishDeadLetter(requestID uuid.UUID, reason string, attempts int) {
	if p == nil || p.conn == nil {
		return
	}
	p.publish(SubjectDeadLetter, deadLetterEvent{
		RequestID: requestID.String(),
		Reason:    reason,
		Attempts:  attempts,
		Timestamp: time.Now(),
	})
}

// PublishDelivered fans out a successful delivery outcome.
func (p *EventPublisher) PublishDelivered(requestID uuid.UUID, providerID string) {
	if p == nil || p.conn == nil {
		return
	}
	p.publish(SubjectDelivered, deliveredEvent{
		RequestID:  requestID.String(),
		ProviderID: providerID,
		Timestamp:  time.Now(),
	})
}

func (p *EventPublisher) publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("admin events: marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Error("admin events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}
