package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/OFFIS-RIT/relannis/internal/app"
	"github.com/OFFIS-RIT/relannis/internal/config"
	"github.com/OFFIS-RIT/relannis/internal/database"
	"github.com/OFFIS-RIT/relannis/internal/queue"
	"github.com/OFFIS-RIT/relannis/internal/util"
	"github.com/OFFIS-RIT/relannis/pkg/common"
	"github.com/OFFIS-RIT/relannis/pkg/logger"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(util.GetEnvString("RELANNIS_CONFIG", ""))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	app.InitLogger(cfg, "worker")

	if util.GetEnvBool("MIGRATE_ON_START", true) {
		v, err := database.Migrate(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
		logger.Info("Schema up to date", "version", v)
	}

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialise importer", "err", err)
	}
	defer a.Close()

	// Init rabbitmq
	conn, err := queue.Init(cfg.RabbitMQ)
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	a.Pipeline.SetGenerator(&queue.ExampleRequester{Events: ch})
	handler := &queue.Handler{Pipeline: a.Pipeline, Events: ch, DB: a.Pool}

	// One message at a time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, true); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		msgs, err := consumerCh.Consume(
			queueName,
			queueName+"_consumer",
			false, // autoAck
			false, // exclusive
			false, // noLocal
			false, // noWait
			nil,   // args
		)
		if err != nil {
			logger.Fatal("Failed to start consuming", "queue", queueName, "err", err)
		}

		go func(qName string, msgs <-chan amqp.Delivery) {
			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName, msgs)
	}

	// A shutdown signal interrupts the running import at its next statement.
	go func() {
		<-ctx.Done()
		a.Pipeline.Cancel()
	}()

	logger.Info("Listening for messages", "queues", queue.Queues)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case qm := <-messageChan:
			startTime := time.Now()
			logger.Info("Received message", "queue", qm.queueName)

			var processingErr error
			switch qm.queueName {
			case queue.ImportQueue:
				processingErr = handler.ProcessImportMessage(ctx, qm.msg.Body)
			case queue.DeleteQueue:
				processingErr = handler.ProcessDeleteMessage(ctx, qm.msg.Body)
			}

			if processingErr != nil {
				logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
				handleProcessingError(ctx, consumerCh, qm.msg, qm.queueName, processingErr)
			} else {
				if err := qm.msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", qm.queueName)
			}

			processingDuration := time.Since(startTime)
			hours := int(processingDuration.Hours())
			minutes := int(processingDuration.Minutes()) % 60
			seconds := int(processingDuration.Seconds()) % 60
			logger.Info(
				"Processing time",
				"duration", fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds),
			)
			logger.Info("Waiting for next message")
		}
	}
}

// handleProcessingError requeues messages interrupted by shutdown and moves
// every other failure to the dead-letter queue.
func handleProcessingError(ctx context.Context, ch *amqp.Channel, msg amqp.Delivery, queueName string, cause error) {
	code := common.Classify(cause)
	if interruptedByShutdown(ctx, cause) {
		logger.Info("Requeueing message interrupted by shutdown", "queue", queueName)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("Failed to nack message", "err", err)
		}
		return
	}

	if err := queue.DeadLetter(context.WithoutCancel(ctx), ch, msg, queueName, code, cause); err != nil {
		logger.Error("Failed to publish to DLQ", "queue", queueName, "err", err)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("Failed to ack message", "err", err)
	}
}

// queryCanceled is the SQLSTATE of a statement cancelled on request.
const queryCanceled = "57014"

// interruptedByShutdown reports whether cause is the failure of an operation
// torn down because ctx ended. The controller's cancel and the context of the
// running statement race, so every form of cancellation counts.
func interruptedByShutdown(ctx context.Context, cause error) bool {
	if ctx.Err() == nil {
		return false
	}
	if common.Classify(cause) == "cancelled" || errors.Is(cause, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(cause, &pgErr) && pgErr.Code == queryCanceled
}
