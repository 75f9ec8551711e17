package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/legalario/txn-service/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Channel is the pub/sub channel shared by the worker process
// (publisher) and the API process (subscriber).
const Channel = "transaction_updates"

const retryDelay = 5 * time.Second

// EventTypeStatusChange is the only event type carried on the channel.
const EventTypeStatusChange = "STATUS_CHANGE"

// Event is the wire format pushed to live observers. Delivery is
// at-least-once and unordered across channel restarts.
type Event struct {
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	ID           string          `json:"id"`
	ActorID      string          `json:"actor_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Type         string          `json:"type"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ProcessedAt  *time.Time      `json:"processed_at"`
	ErrorMessage *string         `json:"error_message"`
}

// NewStatusChangeEvent snapshots a transaction into the wire format.
func NewStatusChangeEvent(t *model.Transaction) Event {
	return Event{
		Type: EventTypeStatusChange,
		Data: EventData{
			ID:           t.ID.String(),
			ActorID:      t.ActorID,
			Status:       string(t.Status),
			Amount:       t.Amount,
			Type:         string(t.Type),
			UpdatedAt:    t.UpdatedAt,
			ProcessedAt:  t.ProcessedAt,
			ErrorMessage: t.ErrorMessage,
		},
	}
}

// Publisher pushes state-change events from the worker side.
type Publisher struct {
	rdb *redis.Client
	log *zap.SugaredLogger
}

func NewPublisher(rdb *redis.Client, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{rdb: rdb, log: logger}
}

// PublishStatusChange serializes and publishes a snapshot. Callers treat
// a failure as non-fatal: the status transition is already committed.
func (p *Publisher) PublishStatusChange(ctx context.Context, t *model.Transaction) error {
	payload, err := json.Marshal(NewStatusChangeEvent(t))
	if err != nil {
		return err
	}
	subs, err := p.rdb.Publish(ctx, Channel, payload).Result()
	if err != nil {
		return err
	}
	p.log.Infof("published %s for %s (subscribers: %d)", EventTypeStatusChange, t.ID, subs)
	return nil
}

// Broadcaster receives every event the subscriber pulls off the channel.
type Broadcaster interface {
	Broadcast(evt Event)
}

// Subscriber runs the API-side listen loop.
type Subscriber struct {
	rdb *redis.Client
	log *zap.SugaredLogger
}

func NewSubscriber(rdb *redis.Client, logger *zap.SugaredLogger) *Subscriber {
	return &Subscriber{rdb: rdb, log: logger}
}

// Run subscribes and forwards events to b until ctx is cancelled. On any
// connection loss it waits and resubscribes; the loop never exits on its
// own.
func (s *Subscriber) Run(ctx context.Context, b Broadcaster) {
	for {
		if err := s.listen(ctx, b); err != nil {
			s.log.Errorf("bus subscription lost: %v", err)
		}
		select {
		case <-ctx.Done():
			s.log.Info("bus subscriber stopped")
			return
		case <-time.After(retryDelay):
		}
	}
}

func (s *Subscriber) listen(ctx context.Context, b Broadcaster) error {
	pubsub := s.rdb.Subscribe(ctx, Channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	s.log.Infof("subscribed to %s", Channel)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-pubsub.Channel():
			if !ok {
				return ctx.Err()
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				s.log.Warnf("drop malformed bus payload: %v", err)
				continue
			}
			b.Broadcast(evt)
		}
	}
}
