package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/photovault/internal/models"
)

const (
	PhotosStreamName   = "PHOTOS"
	ProcessSubjectBase = "photos.process"
	FacesStreamName    = "FACES"
	EventsSubjectBase  = "faces.events"

	// DuplicateWindow is how long the PHOTOS stream remembers message IDs.
	// Repeated process requests for one photo inside it are dropped.
	DuplicateWindow = 30 * time.Second
)

// ProcessSubject is the subject a process task for photoID is published on.
func ProcessSubject(photoID int64) string {
	return fmt.Sprintf("%s.%d", ProcessSubjectBase, photoID)
}

// ProcessMsgID is the JetStream deduplication ID of a process task.
func ProcessMsgID(photoID int64) string {
	return fmt.Sprintf("process-photo-%d", photoID)
}

// EventSubject is the subject face events of userID are published on.
func EventSubject(userID int64) string {
	return fmt.Sprintf("%s.%d", EventsSubjectBase, userID)
}

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

func streamConfigs() []jetstream.StreamConfig {
	return []jetstream.StreamConfig{
		{
			Name:        PhotosStreamName,
			Subjects:    []string{ProcessSubjectBase + ".*"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  DuplicateWindow,
			Description: "Photo face detection tasks",
		},
		{
			Name:        FacesStreamName,
			Subjects:    []string{EventsSubjectBase + ".*"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Face detection and tagging events",
		},
	}
}

// EnsureStreams creates the JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to ride out NATS startup.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streamConfigs() {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishProcess enqueues a process task. It reports duplicate when the
// stream already holds a task for the same photo from the last
// DuplicateWindow.
func (p *Producer) PublishProcess(ctx context.Context, task models.ProcessTask) (duplicate bool, err error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return false, fmt.Errorf("marshal process task: %w", err)
	}

	ack, err := p.js.Publish(ctx, ProcessSubject(task.PhotoID), payload,
		jetstream.WithMsgID(ProcessMsgID(task.PhotoID)))
	if err != nil {
		return false, fmt.Errorf("publish process task: %w", err)
	}
	return ack.Duplicate, nil
}

// PublishFaceEvent publishes a face event on the owner's subject.
func (p *Producer) PublishFaceEvent(ctx context.Context, event models.FaceEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal face event: %w", err)
	}

	if _, err := p.js.Publish(ctx, EventSubject(event.UserID), payload); err != nil {
		return fmt.Errorf("publish face event: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending tasks in the PHOTOS stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, PhotosStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping(context.Context) error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
