package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/stratusmedia/cedrus/internal/logger"
)

// KafkaBus implements EventBus over a Sarama async producer and consumer
// group, the way the teacher's internal/messaging/kafka package wraps
// Sarama for A2A task eventing — generalized here to the project mutation
// taxonomy in types.go.
type KafkaBus struct {
	cfg      Config
	producer sarama.AsyncProducer
	group    sarama.ConsumerGroup
	log      *slog.Logger
}

// NewKafkaBus dials Kafka and prepares both the producer and the consumer
// group used by Subscribe.
func NewKafkaBus(cfg Config) (*KafkaBus, error) {
	pcfg := sarama.NewConfig()
	pcfg.Producer.Return.Successes = true
	pcfg.Producer.Return.Errors = true
	pcfg.Producer.RequiredAcks = sarama.WaitForAll
	pcfg.Producer.Retry.Max = 3
	pcfg.Producer.Compression = sarama.CompressionSnappy

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, pcfg)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}

	ccfg := sarama.NewConfig()
	ccfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	ccfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, ccfg)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("creating kafka consumer group: %w", err)
	}

	return &KafkaBus{cfg: cfg, producer: producer, group: group, log: logger.WithComponent("eventbus.kafka")}, nil
}

// Publish emits an event keyed by project id so all mutations for one
// project land on the same partition and are observed in order by a
// subscriber.
func (b *KafkaBus) Publish(_ context.Context, event Event) error {
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	select {
	case b.producer.Input() <- &sarama.ProducerMessage{
		Topic: b.cfg.Topic,
		Key:   sarama.StringEncoder(event.ProjectID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event-type"), Value: []byte(event.Type)},
		},
	}:
	default:
		return fmt.Errorf("kafka producer input full")
	}
	return nil
}

// Subscribe joins the configured consumer group and invokes handler for
// each message, marking a message only after handler returns nil. A failed
// message is left unmarked, but marking a later message on the same
// partition commits the offset past it, so it is redelivered only if no
// later message is marked before the session ends.
func (b *KafkaBus) Subscribe(ctx context.Context, handler Handler) error {
	consumer := &groupConsumer{handler: handler, log: b.log}
	for {
		if err := b.group.Consume(ctx, []string{b.cfg.Topic}, consumer); err != nil {
			return fmt.Errorf("kafka consume: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *KafkaBus) Close() error {
	perr := b.producer.Close()
	gerr := b.group.Close()
	if perr != nil {
		return perr
	}
	return gerr
}

type groupConsumer struct {
	handler Handler
	log     *slog.Logger
}

func (c *groupConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *groupConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *groupConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for msg := range claim.Messages() {
		event, err := Unmarshal(msg.Value)
		if err != nil {
			c.log.Error("discarding malformed event", "error", err)
			session.MarkMessage(msg, "")
			continue
		}
		if err := c.handler(ctx, event); err != nil {
			c.log.Error("event handler failed, message left unmarked", "error", err, "project_id", event.ProjectID)
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

var _ EventBus = (*KafkaBus)(nil)
