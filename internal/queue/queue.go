package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/internal/util"
	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	EventQueue = "event_queue"
	Exchange   = "pubsub"

	// MaxRetries is how often a failed message goes through the retry queue
	// before it is dead-lettered.
	MaxRetries = 10

	retryTTL = 10 * time.Second
)

func Init() *amqp091.Connection {
	user := util.GetEnv("RABBITMQ_USER")
	pass := util.GetEnv("RABBITMQ_PASSWORD")
	host := util.GetEnvString("RABBITMQ_HOST", "localhost")
	port := util.GetEnvString("RABBITMQ_PORT", "5672")

	connURL := fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		user,
		pass,
		host,
		port,
	)

	conn, err := amqp091.Dial(connURL)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}

	return conn
}

// SetupQueues declares the topic exchange and, for every queue, the queue
// itself plus its _retry and _dlq companions. Messages in a retry queue
// return to their queue once the TTL expires.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		Exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}

	for _, name := range queueNames {
		_, err := ch.QueueDeclare(
			name,
			true,  // durable
			false, // autoDelete
			false, // exclusive
			false, // noWait
			nil,   // args
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		_, err = ch.QueueDeclare(dlqName, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err = ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(retryTTL / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", retryName, err)
		}
	}

	return nil
}

func PublishFIFO(ctx context.Context, ch *amqp091.Channel, queueName string, data []byte) error {
	return ch.PublishWithContext(
		ctx,
		"",
		queueName,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

func PublishTopic(ctx context.Context, ch *amqp091.Channel, topic string, data []byte) error {
	return ch.PublishWithContext(
		ctx,
		Exchange,
		topic,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// ChannelPublisher publishes to the topic exchange over one channel.
type ChannelPublisher struct {
	ch *amqp091.Channel
}

func NewChannelPublisher(ch *amqp091.Channel) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	return PublishTopic(ctx, p.ch, topic, data)
}

// Retries reads the x-retries header. RabbitMQ may hand integers back in
// any width.
func Retries(headers amqp091.Table) int {
	switch v := headers["x-retries"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}

// RetryTarget names the queue a failed message goes to next and the
// headers it carries there.
func RetryTarget(queueName string, headers amqp091.Table) (string, amqp091.Table) {
	retries := Retries(headers)
	next := amqp091.Table{}
	for k, v := range headers {
		next[k] = v
	}
	if retries >= MaxRetries {
		return queueName + "_dlq", next
	}
	next["x-retries"] = int32(retries + 1)
	return queueName + "_retry", next
}

// HandleProcessingError moves msg to the retry queue, or to the dead-letter
// queue once it has been retried MaxRetries times. The original delivery
// is acked only after the copy was published.
func HandleProcessingError(ctx context.Context, ch *amqp091.Channel, msg amqp091.Delivery, queueName string) {
	target, headers := RetryTarget(queueName, msg.Headers)
	if target == queueName+"_dlq" {
		logger.Info("Sending message to DLQ", "dlq", target)
	}

	pubErr := ch.PublishWithContext(
		ctx,
		"",
		target,
		false,
		false,
		amqp091.Publishing{
			ContentType:  msg.ContentType,
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if pubErr != nil {
		logger.Error("Failed to publish failed message", "queue", target, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", "err", err)
	}
}

// Enqueue publishes an encoded EventMessage to the event queue.
func (p *ChannelPublisher) Enqueue(ctx context.Context, data []byte) error {
	return PublishFIFO(ctx, p.ch, EventQueue, data)
}
