package queue

import (
	"context"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/relannis/internal/config"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
)

const (
	ImportQueue = "import_queue"
	DeleteQueue = "delete_queue"

	// EventExchange carries corpus lifecycle events.
	EventExchange = "corpus_events"

	TopicImported     = "corpus.imported"
	TopicImportFailed = "corpus.import_failed"
	TopicDeleted      = "corpus.deleted"

	HeaderErrorCode = "x-error-code"
	HeaderError     = "x-error"
)

// Queues lists the work queues the worker consumes.
var Queues = []string{ImportQueue, DeleteQueue}

// Publisher is the publishing side of an AMQP channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func Init(c config.RabbitMQ) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(c.URL())
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SetupQueues declares the event exchange and, for every queue, a durable
// queue plus its dead-letter queue.
func SetupQueues(ch *amqp091.Channel, queueNames []string) error {
	err := ch.ExchangeDeclare(
		EventExchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return err
	}

	for _, name := range queueNames {
		for _, q := range []string{name, name + "_dlq"} {
			_, err := ch.QueueDeclare(
				q,
				true,  // durable
				false, // autoDelete
				false, // exclusive
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Error("[Queue] QueueDeclare failed", "queue", q, "err", err)
				return err
			}
		}
	}
	return nil
}

func PublishFIFO(ctx context.Context, p Publisher, queueName string, data []byte) error {
	return p.PublishWithContext(ctx, "", queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

func PublishTopic(ctx context.Context, p Publisher, topic string, data []byte) error {
	return p.PublishWithContext(ctx, EventExchange, topic, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}

// DeadLetter moves a failed delivery to the dead-letter queue of queueName,
// tagging it with the error and its classification code.
func DeadLetter(ctx context.Context, p Publisher, msg amqp091.Delivery, queueName, code string, cause error) error {
	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderErrorCode] = code
	if cause != nil {
		headers[HeaderError] = cause.Error()
	}

	dlqName := queueName + "_dlq"
	logger.Info("[Queue] Sending message to DLQ", "dlq", dlqName, "code", code)
	return p.PublishWithContext(ctx, "", dlqName, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	})
}
