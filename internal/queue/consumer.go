package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/photovault/internal/models"
)

// MaxDeliver bounds how often a failing task is redelivered.
const MaxDeliver = 3

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The message is terminated
// instead of redelivered.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

type TaskHandler func(ctx context.Context, task models.ProcessTask) error

type EventHandler func(ctx context.Context, event models.FaceEvent) error

// acknowledger is the part of jetstream.Msg that settle needs.
type acknowledger interface {
	Ack() error
	Nak() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

// delivery is the part of jetstream.Msg the task workers need.
type delivery interface {
	acknowledger
	Data() []byte
	Subject() string
}

type outcome string

const (
	outcomeAck  outcome = "ack"
	outcomeNak  outcome = "nak"
	outcomeTerm outcome = "term"
)

// settle acknowledges msg according to the handler result: success acks,
// permanent failures terminate, anything else is redelivered after a delay.
func settle(msg acknowledger, err error) outcome {
	switch {
	case err == nil:
		_ = msg.Ack()
		return outcomeAck
	case IsPermanent(err):
		_ = msg.Term()
		return outcomeTerm
	default:
		_ = msg.NakWithDelay(2 * time.Second)
		return outcomeNak
	}
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream

	workers sync.WaitGroup // running task workers
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeTasks starts consuming process tasks from the PHOTOS stream.
// workerCount goroutines run handler concurrently.
func (c *Consumer) ConsumeTasks(ctx context.Context, consumerName string, handler TaskHandler, workerCount int) error {
	workerCount = max(workerCount, 1)
	stream, err := c.js.Stream(ctx, PhotosStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", PhotosStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    MaxDeliver,
		FilterSubject: ProcessSubjectBase + ".*",
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	msgCh := make(chan delivery, workerCount*2)

	go func() {
		defer close(msgCh)
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(workerCount, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch process tasks", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				select {
				case msgCh <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	c.startTaskWorkers(ctx, msgCh, handler, workerCount)

	slog.Info("process task consumer started", "consumer", consumerName, "workers", workerCount)
	return nil
}

// startTaskWorkers runs workerCount goroutines that handle and settle the
// messages of msgs until it is closed.
func (c *Consumer) startTaskWorkers(ctx context.Context, msgs <-chan delivery, handler TaskHandler, workerCount int) {
	c.workers.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func(workerID int) {
			defer c.workers.Done()
			for msg := range msgs {
				var task models.ProcessTask
				err := json.Unmarshal(msg.Data(), &task)
				if err != nil {
					err = Permanent(fmt.Errorf("decode process task: %w", err))
				} else {
					err = handler(ctx, task)
				}
				if out := settle(msg, err); out != outcomeAck {
					slog.Error("process task failed", "worker", workerID, "subject", msg.Subject(),
						"outcome", out, "error", err)
				}
			}
		}(i)
	}
}

// Wait blocks until every task worker has returned or timeout elapses, and
// reports whether the workers finished. Workers return once the context
// passed to ConsumeTasks is cancelled and their current task settles.
func (c *Consumer) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// ConsumeEvents starts consuming face events, e.g. for the API to broadcast
// over WebSocket.
func (c *Consumer) ConsumeEvents(ctx context.Context, consumerName string, handler EventHandler) error {
	stream, err := c.js.Stream(ctx, FacesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", FacesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       10 * time.Second,
		MaxDeliver:    MaxDeliver,
		FilterSubject: EventsSubjectBase + ".*",
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			if ctx.Err() != nil {
				return
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				var event models.FaceEvent
				err := json.Unmarshal(msg.Data(), &event)
				if err != nil {
					err = Permanent(fmt.Errorf("decode face event: %w", err))
				} else {
					err = handler(ctx, event)
				}
				if out := settle(msg, err); out != outcomeAck {
					slog.Error("face event failed", "outcome", out, "error", err)
				}
			}
		}
	}()

	slog.Info("face event consumer started", "consumer", consumerName)
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
