package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cloud.google.com/go/pubsub"
	"github.com/pagewise/analysisflow/internal/models"
)

// PubSubLog implements the submit log on a Pub/Sub topic and subscription.
// Ordering keys carry the document id so pages of one document land on one
// partition; delivery is at-least-once with redelivery on nack.
type PubSubLog struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
}

// NewPubSubLog wraps an existing client's topic and subscription. The topic
// may be nil for consumer-only processes, the subscription nil for
// producer-only ones.
func NewPubSubLog(client *pubsub.Client, topicID, subscriptionID string) *PubSubLog {
	l := &PubSubLog{}
	if topicID != "" {
		l.topic = client.Topic(topicID)
		l.topic.EnableMessageOrdering = true
	}
	if subscriptionID != "" {
		l.sub = client.Subscription(subscriptionID)
	}
	return l
}

func (l *PubSubLog) Publish(ctx context.Context, ev *models.DocumentSubmittedEvent) error {
	if l.topic == nil {
		return fmt.Errorf("publish: log not configured with a topic")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal submit event: %w", err)
	}
	res := l.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		OrderingKey: ev.DocumentID,
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish submit event for %s: %w", ev.DocumentID, err)
	}
	return nil
}

func (l *PubSubLog) Receive(ctx context.Context, h Handler) error {
	if l.sub == nil {
		return fmt.Errorf("receive: log not configured with a subscription")
	}
	return l.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var ev models.DocumentSubmittedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Error("Dropping undecodable submit event.", "error", err)
			msg.Ack() // poison message, redelivery cannot help
			return
		}
		if err := h(ctx, &ev); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}
