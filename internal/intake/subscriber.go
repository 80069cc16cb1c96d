package intake

import (
	"context"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/telemetra/telemetra/internal/audit"
	"github.com/telemetra/telemetra/internal/config"
	"github.com/telemetra/telemetra/internal/metrics"
	"github.com/telemetra/telemetra/pkg/types"
)

// Handler processes one accepted telemetry message. receivedAt is the
// time of intake acceptance, assigned exactly once.
type Handler func(ctx context.Context, msg *types.TelemetryMessage, receivedAt time.Time) error

// Subscriber consumes device telemetry from the pub/sub boundary.
// A single malformed or failing message never stops the consumer loop;
// isolation is per-message.
type Subscriber struct {
	conn    *nats.Conn
	cfg     config.NATSConfig
	handler Handler
	auditor audit.Sink
	metrics *metrics.Metrics

	sub *nats.Subscription
}

// Connect establishes the NATS connection with reconnect behavior suited
// to a long-running intake service.
func Connect(cfg config.NATSConfig) (*nats.Conn, error) {
	return nats.Connect(cfg.URL,
		nats.Name("telemetra-intake"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("intake: NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("intake: NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
}

// NewSubscriber creates a Subscriber on an established connection.
func NewSubscriber(conn *nats.Conn, cfg config.NATSConfig, handler Handler, auditor audit.Sink, m *metrics.Metrics) *Subscriber {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	return &Subscriber{
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		auditor: auditor,
		metrics: m,
	}
}

// Start subscribes to the configured subject. ctx bounds per-message
// processing; cancelling it does not unsubscribe (use Stop).
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.conn.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
		s.dispatch(ctx, msg.Subject, msg.Data)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("intake: subscribed to %s", s.cfg.Subject)
	return nil
}

// dispatch handles one delivery. receivedAt is stamped before parsing so
// it reflects the moment the message arrived, and per-device ordering of
// received_at follows delivery order.
func (s *Subscriber) dispatch(ctx context.Context, subject string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("intake: recovered from panic handling %s: %v", subject, r)
		}
	}()

	receivedAt := time.Now().UTC()

	msg, err := ParseMessage(subject, payload)
	if err != nil {
		// Malformed payloads are dropped: redelivery is the producer's
		// responsibility and re-parsing the same bytes cannot succeed.
		log.Printf("intake: rejected message on %s: %v", subject, err)
		s.auditor.Record(audit.Entry{
			Kind:   audit.KindIntakeRejected,
			Topic:  subject,
			Reason: err.Error(),
		})
		if s.metrics != nil {
			s.metrics.IntakeRejectedTotal.Inc()
		}
		return
	}

	msgCtx, cancel := context.WithTimeout(ctx, s.cfg.HandlerTimeout)
	defer cancel()

	if err := s.handler(msgCtx, msg, receivedAt); err != nil {
		// The pipeline has already routed the record to the dead-letter
		// sink and audited the failure; nothing to do here but log.
		log.Printf("intake: pipeline failed for device %s: %v", msg.DeviceID, err)
	}
}

// Stop unsubscribes from the subject.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	err := s.sub.Unsubscribe()
	s.sub = nil
	return err
}
