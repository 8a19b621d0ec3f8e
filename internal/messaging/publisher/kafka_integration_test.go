//go:build integration

package publisher_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"parley/internal/messaging/models"
	"parley/internal/messaging/publisher"
	"parley/internal/platform/config"
	id "parley/pkg/domain"
	"parley/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	redpanda  *containers.RedpandaContainer
	publisher *publisher.KafkaPublisher
	topic     string
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.redpanda = containers.GetManager().GetRedpanda(s.T())
	s.topic = "parley.notifications.test"

	p, err := publisher.NewKafka(config.KafkaConfig{
		Brokers:           s.redpanda.Brokers,
		Topic:             s.topic,
		Partitions:        1,
		ReplicationFactor: 1,
	}, nil)
	s.Require().NoError(err)
	s.publisher = p

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(s.publisher.Ping(ctx))
	s.Require().NoError(s.publisher.EnsureTopic(ctx))
	// Second call tolerates the existing topic.
	s.Require().NoError(s.publisher.EnsureTopic(ctx))
}

func (s *KafkaPublisherSuite) TearDownSuite() {
	if s.publisher != nil {
		s.publisher.Close()
	}
}

func (s *KafkaPublisherSuite) TestPublishKeyedByRecipient() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n := &models.Notification{
		ID:          id.NewNotificationID(),
		RecipientID: id.NewUserID(),
		ActorID:     id.NewUserID(),
		MessageID:   id.NewMessageID(),
		CreatedAt:   time.Now().UTC(),
	}
	s.Require().NoError(s.publisher.Publish(ctx, n))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var found *kgo.Record
	for found == nil && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		if ctx.Err() != nil {
			break
		}
		s.Require().Empty(fetches.Errors())
		fetches.EachRecord(func(r *kgo.Record) {
			if string(r.Key) == n.RecipientID.String() {
				found = r
			}
		})
	}
	s.Require().NotNil(found, "record not consumed before timeout")

	var event publisher.NotificationEvent
	s.Require().NoError(json.Unmarshal(found.Value, &event))
	s.Equal(n.ID.String(), event.NotificationID)
	s.Equal(publisher.EventNotificationCreated, event.Type)
	s.Require().Len(found.Headers, 1)
	s.Equal("type", found.Headers[0].Key)
}
