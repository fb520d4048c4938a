package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Backend names.
const (
	BackendGoChannel = "gochannel"
	BackendKafka     = "kafka"
)

// Config selects and configures the queue backend.
type Config struct {
	Backend       string
	Topic         string
	Brokers       []string
	ConsumerGroup string
	// Buffer is the gochannel output buffer size.
	Buffer int64
}

// Handler processes one task. Errors are logged; the message is acked either
// way since executions record their own failures.
type Handler func(ctx context.Context, task Task) error

// Queue publishes and consumes execute tasks over watermill.
type Queue struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	logger     *slog.Logger

	mu       sync.Mutex
	messages <-chan *message.Message
}

// New builds a Queue for cfg.Backend. An empty backend means gochannel.
func New(cfg Config, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	wmLogger := watermill.NewSlogLogger(logger.With(slog.String("component", "watermill")))

	switch cfg.Backend {
	case "", BackendGoChannel:
		buffer := cfg.Buffer
		if buffer <= 0 {
			buffer = 1000
		}
		pubSub := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: buffer,
		}, wmLogger)
		return NewWithPubSub(pubSub, pubSub, cfg.Topic, logger), nil

	case BackendKafka:
		pub, sub, err := newKafka(cfg, wmLogger)
		if err != nil {
			return nil, err
		}
		return NewWithPubSub(pub, sub, cfg.Topic, logger), nil

	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// NewWithPubSub wraps an existing publisher and subscriber.
func NewWithPubSub(pub message.Publisher, sub message.Subscriber, topic string, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &Queue{publisher: pub, subscriber: sub, topic: topic, logger: logger}
}

func newKafka(cfg Config, logger watermill.LoggerAdapter) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(cfg.Brokers) == 0 || cfg.Brokers[0] == "" {
		return nil, nil, errors.New("kafka backend needs at least one broker")
	}
	group := cfg.ConsumerGroup
	if group == "" {
		group = "autoflow-workers"
	}

	subConfig := kafka.DefaultSaramaSubscriberConfig()
	subConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	subscriber, err := kafka.NewSubscriber(
		kafka.SubscriberConfig{
			Brokers:               cfg.Brokers,
			Unmarshaler:           kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: subConfig,
			ConsumerGroup:         group,
		},
		logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka subscriber: %w", err)
	}

	pubConfig := sarama.NewConfig()
	pubConfig.Producer.Return.Successes = true
	publisher, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               cfg.Brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: pubConfig,
		},
		logger,
	)
	if err != nil {
		_ = subscriber.Close()
		return nil, nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	return publisher, subscriber, nil
}

// Enqueue publishes task.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	msg, err := encodeTask(task)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	if err := q.publisher.Publish(q.topic, msg); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	q.logger.DebugContext(ctx, "task enqueued",
		slog.String("workflow_id", task.WorkflowID),
		slog.String("execution_id", task.ExecutionID),
		slog.String("message_id", msg.UUID),
	)
	return nil
}

// Subscribe opens the subscription Consume reads from. Calling it before
// enqueueing keeps tasks published ahead of the consumer loop; the gochannel
// backend drops messages that have no subscriber.
func (q *Queue) Subscribe(ctx context.Context) error {
	_, err := q.subscription(ctx)
	return err
}

func (q *Queue) subscription(ctx context.Context) (<-chan *message.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.messages != nil {
		return q.messages, nil
	}
	messages, err := q.subscriber.Subscribe(ctx, q.topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", q.topic, err)
	}
	q.messages = messages
	return messages, nil
}

// Consume delivers tasks to handle until ctx is done. Undecodable messages
// are logged and dropped.
func (q *Queue) Consume(ctx context.Context, handle Handler) error {
	messages, err := q.subscription(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			task, err := decodeTask(msg)
			if err != nil {
				q.logger.WarnContext(ctx, "dropping malformed task", slog.String("error", err.Error()))
				msg.Ack()
				continue
			}
			if err := handle(ctx, task); err != nil {
				q.logger.WarnContext(ctx, "task handler failed",
					slog.String("workflow_id", task.WorkflowID),
					slog.String("execution_id", task.ExecutionID),
					slog.String("error", err.Error()),
				)
			}
			msg.Ack()
		}
	}
}

// Close closes the publisher and the subscriber.
func (q *Queue) Close() error {
	pubErr := q.publisher.Close()
	var subErr error
	if any(q.subscriber) != any(q.publisher) {
		subErr = q.subscriber.Close()
	}
	return errors.Join(pubErr, subErr)
}
