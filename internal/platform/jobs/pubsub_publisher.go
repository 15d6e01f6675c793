package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/rede-afiliados/api/internal/services"
)

// LedgerEventMessage is the JSON body published for every ledger event.
type LedgerEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId,omitempty"`
	WithdrawalID   string         `json:"withdrawalId,omitempty"`
	ProfileID      string         `json:"profileId,omitempty"`
	ActorID        string         `json:"actorId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus,omitempty"`
	Amount         int64          `json:"amount"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PubSubLedgerPublisher publishes ledger events to a Pub/Sub topic.
type PubSubLedgerPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.LedgerEventPublisher = (*PubSubLedgerPublisher)(nil)

// NewPubSubLedgerPublisher constructs a Pub/Sub backed ledger event publisher.
func NewPubSubLedgerPublisher(topic *pubsub.Topic) (*PubSubLedgerPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub ledger publisher: topic is required")
	}
	// Events for one order or withdrawal share an ordering key.
	topic.EnableMessageOrdering = true
	return &PubSubLedgerPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishLedgerEvent enqueues event and waits for the server acknowledgement.
func (p *PubSubLedgerPublisher) PublishLedgerEvent(ctx context.Context, event services.LedgerEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub ledger publisher: not initialised")
	}

	data, err := p.marshal(LedgerEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		WithdrawalID:   event.WithdrawalID,
		ProfileID:      event.ProfileID,
		ActorID:        event.ActorID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		Amount:         event.Amount,
		OccurredAt:     event.OccurredAt.UTC(),
		Metadata:       event.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "withdrawalId", event.WithdrawalID)
	setAttr(attrs, "profileId", event.ProfileID)
	if event.Amount != 0 {
		attrs["amount"] = strconv.FormatInt(event.Amount, 10)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderingKey(event),
	})
	if _, err := result.Get(ctx); err != nil {
		p.topic.ResumePublish(orderingKey(event))
		return fmt.Errorf("publish ledger event: %w", err)
	}
	return nil
}

func orderingKey(event services.LedgerEvent) string {
	switch {
	case event.OrderID != "":
		return "order/" + event.OrderID
	case event.WithdrawalID != "":
		return "withdrawal/" + event.WithdrawalID
	default:
		return ""
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
