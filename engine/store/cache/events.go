package cache

import (
	"context"
	"encoding/json"
)

// Event subjects published on the Redis event bus.
const (
	SubjectEnrichmentDone  = "enrichment:done"
	SubjectEnrichmentError = "enrichment:error"
	SubjectRetryScheduled  = "retry:scheduled"
	SubjectRetryExhausted  = "retry:exhausted"
	SubjectTaskUpdated     = "task:updated"
)

// PublishEvent serializes v as JSON and publishes it on the named channel.
func PublishEvent[T any](ctx context.Context, s *Store, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.key("events", subject), data).Err()
}

// SubscribeEvent registers a handler for JSON messages of type T on the
// named channel. Malformed messages are silently dropped. The returned
// func cancels the subscription.
func SubscribeEvent[T any](ctx context.Context, s *Store, subject string, handler func(context.Context, T)) func() {
	pubsub := s.client.Subscribe(ctx, s.key("events", subject))
	ch := pubsub.Channel()
	go func() {
		for msg := range ch {
			var v T
			if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
				continue
			}
			handler(ctx, v)
		}
	}()
	return func() { _ = pubsub.Close() }
}
