package kafka

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
	"vn.io.arda/cropalert/internal/domain"
	"vn.io.arda/cropalert/internal/kafka/registry"

	// Blank imports trigger init() in each handler file,
	// registering all event handlers into the registry.
	_ "vn.io.arda/cropalert/internal/kafka/handlers"
)

// EventSink receives decoded alert events. application.Service implements it.
type EventSink interface {
	HandleEvent(ctx context.Context, ev domain.AlertEvent) error
}

// Consumer wraps the franz-go Kafka client.
type Consumer struct {
	client *kgo.Client
	sink   EventSink
}

// New creates a Consumer with the given brokers, group ID, and topics.
func New(brokers []string, groupID string, topics []string, sink EventSink) (*Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, err
	}
	return &Consumer{client: client, sink: sink}, nil
}

// Start begins polling Kafka and processing records. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	log.Info().Msg("kafka consumer started")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			break
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			log.Error().Err(err).Str("topic", topic).Int32("partition", partition).Msg("kafka fetch error")
		})

		fetches.EachRecord(func(r *kgo.Record) {
			process(ctx, c.sink, r)
		})

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			log.Error().Err(err).Msg("kafka commit error")
		}
	}

	c.client.Close()
	log.Info().Msg("kafka consumer stopped")
}

// process routes a record through the registry and hands the resulting event
// to the sink. Records no handler claims are skipped.
func process(ctx context.Context, sink EventSink, r *kgo.Record) {
	log.Debug().
		Str("topic", r.Topic).
		Str("key", string(r.Key)).
		Msg("processing kafka record")

	var ev *domain.AlertEvent
	if registry.HasDirect(r.Topic) {
		ev = registry.DispatchDirect(r.Topic, r.Value)
	} else {
		ev = registry.Dispatch(r.Topic, r.Value)
	}

	if ev == nil {
		log.Debug().Str("topic", r.Topic).Msg("no handler matched, skipping")
		return
	}

	if err := sink.HandleEvent(ctx, *ev); err != nil {
		log.Error().Err(err).
			Str("topic", r.Topic).
			Str("kind", string(ev.Kind)).
			Str("email", ev.Email).
			Str("source_event_id", ev.SourceEventID).
			Msg("failed to handle alert event from kafka")
	}
}
