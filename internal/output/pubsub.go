package output

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// CrawlSummary is the completion event published when a crawl run finishes.
type CrawlSummary struct {
	RunID      string    `json:"run_id"`
	Seeds      []string  `json:"seeds"`
	Records    int       `json:"records"`
	Documents  int       `json:"documents"`
	Failures   int       `json:"failures"`
	FinishedAt time.Time `json:"finished_at"`
	ExportURI  string    `json:"export_uri,omitempty"`
}

// Publisher announces finished crawl runs on a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
}

// NewPublisher creates a Publisher for the given project and topic.
func NewPublisher(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{topic: client.Topic(topicID)}, nil
}

// Publish marshals the summary to JSON and publishes it, blocking until the
// server acknowledges the message.
func (p *Publisher) Publish(ctx context.Context, summary CrawlSummary) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"run_id": summary.RunID},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases topic resources.
func (p *Publisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
