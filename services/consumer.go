package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog/log"

	"vision-adapter-worker/domain"
)

const (
	DefaultNumWorkers = 10
	MaxBatchSize      = 10
	FlushInterval     = 1 * time.Second
	SQSMaxMessages    = 10
	ReceiveBackoff    = 5 * time.Second
)

type QueueClient interface {
	ReceiveMessages(ctx context.Context, queueURL string, maxMessages int32) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, queueURL string, entries []types.DeleteMessageBatchRequestEntry) error
}

type MessageHandler interface {
	ProcessMessage(ctx context.Context, msg domain.RecognitionRequestedMessage) error
}

// Consumer feeds input queue messages to a pool of workers and deletes the
// handled ones in batches.
type Consumer struct {
	queue          QueueClient
	handler        MessageHandler
	queueURL       string
	numWorkers     int
	flushInterval  time.Duration
	receiveBackoff time.Duration
}

type ConsumerOption func(*Consumer)

func WithNumWorkers(n int) ConsumerOption {
	return func(c *Consumer) {
		if n > 0 {
			c.numWorkers = n
		}
	}
}

func WithFlushInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.flushInterval = d }
}

func WithReceiveBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) { c.receiveBackoff = d }
}

func NewConsumer(queue QueueClient, handler MessageHandler, queueURL string, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		queue:          queue,
		handler:        handler,
		queueURL:       queueURL,
		numWorkers:     DefaultNumWorkers,
		flushInterval:  FlushInterval,
		receiveBackoff: ReceiveBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run polls until ctx is cancelled, then lets the workers finish the messages
// already dispatched and flushes pending deletes before returning.
func (c *Consumer) Run(ctx context.Context) {
	jobs := make(chan types.Message, c.numWorkers*2)
	deletes := make(chan types.Message, c.numWorkers*2)

	var workerWg sync.WaitGroup
	var deleterWg sync.WaitGroup

	for i := 0; i < c.numWorkers; i++ {
		workerWg.Add(1)
		go c.worker(ctx, &workerWg, jobs, deletes, i)
	}

	deleterWg.Add(1)
	go c.batchDeleter(&deleterWg, deletes)

	log.Info().Int("workers", c.numWorkers).Int("batch_size", MaxBatchSize).Str("queue", c.queueURL).Msg("consumer started")

loop:
	for {
		if ctx.Err() != nil {
			break
		}

		out, err := c.queue.ReceiveMessages(ctx, c.queueURL, SQSMaxMessages)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("failed to receive messages")
			select {
			case <-time.After(c.receiveBackoff):
			case <-ctx.Done():
				break loop
			}
			continue
		}

		for _, msg := range out.Messages {
			select {
			case jobs <- msg:
			case <-ctx.Done():
				break loop
			}
		}
	}

	log.Info().Msg("consumer loop exited, waiting for workers to finish")
	close(jobs)
	workerWg.Wait()
	close(deletes)
	deleterWg.Wait()
	log.Info().Msg("consumer shutdown complete")
}

func (c *Consumer) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan types.Message, deletes chan<- types.Message, id int) {
	defer wg.Done()
	// In-flight work finishes after shutdown starts.
	workCtx := context.WithoutCancel(ctx)
	for msg := range jobs {
		if c.handle(workCtx, msg, id) {
			deletes <- msg
		}
	}
}

// handle reports whether msg can be deleted: it was processed, or it can
// never be.
func (c *Consumer) handle(ctx context.Context, msg types.Message, id int) bool {
	logger := log.With().Int("worker", id).Str("message_id", aws.ToString(msg.MessageId)).Logger()

	body, err := decodeRequest(msg)
	if err != nil {
		logger.Error().Err(err).Msg("dropping message")
		return true
	}

	err = c.handler.ProcessMessage(ctx, body)
	switch {
	case err == nil:
		return true
	case IsPermanent(err):
		logger.Warn().Err(err).Msg("dropping unprocessable request")
		return true
	default:
		logger.Error().Err(err).Msg("recognition failed, leaving message for redelivery")
		return false
	}
}

// decodeRequest parses the body. A correlation id message attribute takes
// precedence over the one in the body.
func decodeRequest(msg types.Message) (domain.RecognitionRequestedMessage, error) {
	var body domain.RecognitionRequestedMessage
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &body); err != nil {
		return body, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if attr, ok := msg.MessageAttributes[domain.AttrCorrelationID]; ok {
		if id := aws.ToString(attr.StringValue); id != "" {
			body.CorrelationID = id
		}
	}
	return body, nil
}

func (c *Consumer) batchDeleter(wg *sync.WaitGroup, deletes <-chan types.Message) {
	defer wg.Done()
	var batch []types.DeleteMessageBatchRequestEntry
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.queue.DeleteMessageBatch(context.Background(), c.queueURL, batch); err != nil {
			log.Error().Err(err).Int("entries", len(batch)).Msg("failed to delete batch")
		}
		batch = nil
	}

	for {
		select {
		case msg, ok := <-deletes:
			if !ok {
				flush()
				return
			}
			batch = append(batch, types.DeleteMessageBatchRequestEntry{
				Id:            msg.MessageId,
				ReceiptHandle: msg.ReceiptHandle,
			})
			if len(batch) >= MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
