package receipt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitDispatcher implements the Dispatcher interface on a durable
// RabbitMQ queue with persistent messages, giving at-least-once delivery
// across broker and process restarts.
type RabbitDispatcher struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

// NewRabbitDispatcher connects to RabbitMQ and declares the extraction
// queue.
func NewRabbitDispatcher(amqpURL, queueName string) (*RabbitDispatcher, error) {
	conn, err := dialWithRetry(amqpURL, 10, 5*time.Second)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring queue: %w", err)
	}

	return &RabbitDispatcher{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
	}, nil
}

// dialWithRetry attempts to connect to RabbitMQ with retries, since the
// broker commonly starts alongside this process.
func dialWithRetry(url string, maxRetries int, delay time.Duration) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		slog.Warn("RabbitMQ connection failed", "attempt", i+1, "max", maxRetries, "error", err)
		if i < maxRetries-1 {
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("connecting to rabbitmq after %d attempts: %w", maxRetries, err)
}

// Dispatch publishes a single extraction job to the queue.
func (d *RabbitDispatcher) Dispatch(ctx context.Context, job ExtractJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	err = d.channel.PublishWithContext(ctx,
		"",          // exchange
		d.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing job: %w", err)
	}

	return nil
}

// Close closes the channel and connection.
func (d *RabbitDispatcher) Close() error {
	if d.channel != nil {
		d.channel.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}
