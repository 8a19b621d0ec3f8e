// Package publisher delivers committed notifications to Kafka.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"parley/internal/messaging/models"
	"parley/internal/messaging/ports"
	"parley/internal/platform/config"
	"parley/pkg/platform/sentinel"
)

// EventNotificationCreated is the type header of every record.
const EventNotificationCreated = "notification.created"

var _ ports.NotificationPublisher = (*KafkaPublisher)(nil)

// NotificationEvent is the record value. Records are keyed by recipient so a
// user's notifications stay ordered within one partition.
type NotificationEvent struct {
	Type           string    `json:"type"`
	NotificationID string    `json:"notification_id"`
	RecipientID    string    `json:"recipient_id"`
	ActorID        string    `json:"actor_id"`
	MessageID      string    `json:"message_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func newNotificationEvent(n *models.Notification) NotificationEvent {
	return NotificationEvent{
		Type:           EventNotificationCreated,
		NotificationID: n.ID.String(),
		RecipientID:    n.RecipientID.String(),
		ActorID:        n.ActorID.String(),
		MessageID:      n.MessageID.String(),
		CreatedAt:      n.CreatedAt,
	}
}

type KafkaPublisher struct {
	client            *kgo.Client
	topic             string
	partitions        int32
	replicationFactor int16
	logger            *slog.Logger
}

// NewKafka connects a producer to cfg.Brokers. The client dials lazily;
// call Ping or EnsureTopic to check connectivity.
func NewKafka(cfg config.KafkaConfig, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{
		client:            client,
		topic:             cfg.Topic,
		partitions:        cfg.Partitions,
		replicationFactor: cfg.ReplicationFactor,
		logger:            logger,
	}, nil
}

func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: kafka ping: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// EnsureTopic creates the notification topic if it does not exist.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context) error {
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopic(ctx, p.partitions, p.replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("%w: create topic %s: %w", sentinel.ErrUnavailable, p.topic, err)
	}
	if resp.Err != nil {
		if errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create topic %s: %w", p.topic, resp.Err)
	}
	p.logger.InfoContext(ctx, "kafka topic created",
		"topic", p.topic,
		"partitions", p.partitions,
		"replication_factor", p.replicationFactor,
	)
	return nil
}

// Publish produces one record and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, n *models.Notification) error {
	value, err := json.Marshal(newNotificationEvent(n))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(n.RecipientID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(EventNotificationCreated)},
		},
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("%w: produce notification: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() {
	p.client.Close()
}
