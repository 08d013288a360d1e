package extraction

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ebaxter/receiptdrop/internal/receipt"
)

// Consumer pulls extraction jobs off the RabbitMQ queue and feeds them
// to a Worker. One unacked message at a time; interpretable jobs are
// always acked (the worker records failure on the receipt itself), and
// poison messages are rejected without requeue.
type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
	worker    *Worker
}

// NewConsumer connects to RabbitMQ and declares the extraction queue.
func NewConsumer(amqpURL, queueName string, worker *Worker) (*Consumer, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
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

	if err := channel.Qos(1, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting QoS: %w", err)
	}

	return &Consumer{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		worker:    worker,
	}, nil
}

// Start begins consuming in a background goroutine.
func (c *Consumer) Start() error {
	msgs, err := c.channel.Consume(
		c.queueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("registering consumer: %w", err)
	}

	go func() {
		for msg := range msgs {
			c.handle(msg)
		}
	}()

	slog.Info("Extraction consumer started", "queue", c.queueName)
	return nil
}

func (c *Consumer) handle(msg amqp.Delivery) {
	start := time.Now()

	var job receipt.ExtractJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		slog.Error("Dropping malformed extraction job", "error", err)
		msg.Nack(false, false)
		return
	}

	if err := c.worker.Process(job); err != nil {
		slog.Error("Failed to process extraction job", "receiptId", job.ReceiptID, "error", err)
		msg.Nack(false, false)
		return
	}

	slog.Info("Extraction job handled", "receiptId", job.ReceiptID, "duration", time.Since(start))
	msg.Ack(false)
}

// Close closes the channel and connection.
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
