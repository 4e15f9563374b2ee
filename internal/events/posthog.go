package events

import (
	"context"

	"github.com/posthog/posthog-go"
)

// PostHog enqueues events on a posthog client, which batches and ships them
// in the background.
type PostHog struct {
	client posthog.Client
}

// NewPostHog returns a PostHog sink. An empty endpoint uses PostHog cloud.
func NewPostHog(apiKey, endpoint string) (*PostHog, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return &PostHog{client: client}, nil
}

func (p *PostHog) Send(_ context.Context, event Event) error {
	capture := posthog.Capture{
		DistinctId: event.DistinctID,
		Event:      event.Name,
		Properties: event.Properties,
	}
	if err := capture.Validate(); err != nil {
		return err
	}
	return p.client.Enqueue(capture)
}

func (p *PostHog) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
