// Package pubsub publishes upload events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/artvee-ingest/internal/artwork"
)

// Config names the destination topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
	// PublishTimeout bounds how long one event may wait for the server ack.
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// Notifier implements artwork.Notifier.
type Notifier struct {
	topic   *pubsub.Topic
	timeout time.Duration
	logger  *zap.Logger
}

// New wraps an existing topic handle.
func New(topic *pubsub.Topic, cfg Config, logger *zap.Logger) (*Notifier, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{topic: topic, timeout: cfg.PublishTimeout, logger: logger}, nil
}

// Publish sends event as JSON with the artwork and run ids as attributes and
// waits for the server id.
func (n *Notifier) Publish(ctx context.Context, event artwork.UploadEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal upload event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"artwork_id": event.ArtworkID,
			"run_id":     event.RunID,
			"event":      "artwork.uploaded",
		},
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	id, err := n.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish upload event: %w", err)
	}
	n.logger.Debug("upload event published", zap.String("artwork_id", event.ArtworkID), zap.String("message_id", id))
	return nil
}

// Stop flushes pending messages.
func (n *Notifier) Stop() {
	n.topic.Stop()
}
