package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/lkgb/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

// DeliveryFunc processes one delivery. A returned error sends the message
// through the retry queue.
type DeliveryFunc func(ctx context.Context, msg amqp091.Delivery) error

// Consume delivers messages of queueName to fn with at most parallel
// messages in flight, until ctx is done or the channel closes. In-flight
// messages are finished before Consume returns.
func Consume(ctx context.Context, conn *amqp091.Connection, queueName string, parallel int, fn DeliveryFunc) error {
	if parallel < 1 {
		parallel = 1
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(parallel, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		queueName,
		queueName+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queueName, err)
	}

	var g errgroup.Group
	g.SetLimit(parallel)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping consumer", "queue", queueName)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queueName)
				return nil
			}
			g.Go(func() error {
				start := time.Now()
				logger.Info("Received message", "queue", queueName)

				// a cancelled worker still settles the message it holds
				if err := fn(ctx, msg); err != nil {
					logger.Error("Error processing message", "queue", queueName, "err", err)
					HandleProcessingError(context.WithoutCancel(ctx), ch, msg, queueName)
					return nil
				}
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully",
					"queue", queueName,
					"duration", time.Since(start).Round(time.Millisecond),
				)
				return nil
			})
		}
	}
}
