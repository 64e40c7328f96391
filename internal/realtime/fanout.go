package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/classlinker-chat/internal/dto"
	"github.com/noah-isme/classlinker-chat/internal/models"
	"github.com/noah-isme/classlinker-chat/pkg/pubsub"
)

// Fanout delivers a stored message to every member of its subject room.
// Publish is called in commit order for a subject.
type Fanout interface {
	Publish(ctx context.Context, msg models.ChatMessage) error
}

type broadcastObserver interface {
	ObserveBroadcast(recipients int)
}

// LocalFanout delivers straight into this instance's registry.
type LocalFanout struct {
	registry *Registry
	metrics  broadcastObserver
}

// NewLocalFanout builds the in-process fan-out. metrics may be nil.
func NewLocalFanout(registry *Registry, metrics broadcastObserver) *LocalFanout {
	return &LocalFanout{registry: registry, metrics: metrics}
}

// Publish implements Fanout.
func (f *LocalFanout) Publish(ctx context.Context, msg models.ChatMessage) error {
	return f.deliver(dto.NewMessageFrom(msg))
}

func (f *LocalFanout) deliver(payload dto.NewMessage) error {
	frame, err := json.Marshal(dto.OutboundEvent{Event: dto.EventNewMessage, Data: payload})
	if err != nil {
		return err
	}
	n := f.registry.Broadcast(payload.SubjectID, frame)
	if f.metrics != nil {
		f.metrics.ObserveBroadcast(n)
	}
	return nil
}

// RedisFanout publishes messages on a shared channel so that every instance,
// this one included, delivers them to its local members.
type RedisFanout struct {
	publisher  pubsub.Publisher
	subscriber pubsub.Subscriber
	local      *LocalFanout
	origin     string
	logger     *zap.Logger
}

// NewRedisFanout builds the cross-instance fan-out. origin identifies this instance.
func NewRedisFanout(publisher pubsub.Publisher, subscriber pubsub.Subscriber, local *LocalFanout, origin string, logger *zap.Logger) *RedisFanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFanout{publisher: publisher, subscriber: subscriber, local: local, origin: origin, logger: logger}
}

// Publish implements Fanout. When the broker is unreachable the message is
// still delivered to local members; it is already stored either way.
func (f *RedisFanout) Publish(ctx context.Context, msg models.ChatMessage) error {
	payload := dto.NewMessageFrom(msg)
	event, err := pubsub.NewEvent(dto.EventNewMessage, msg.SubjectID, f.origin, payload)
	if err != nil {
		return err
	}
	if err := f.publisher.Publish(ctx, event); err != nil {
		f.logger.Sugar().Warnw("chat publish failed, delivering locally", "subject_id", msg.SubjectID, "chat_id", msg.ID, "error", err)
		return f.local.deliver(payload)
	}
	return nil
}

// Run consumes the subscription until ctx ends.
func (f *RedisFanout) Run(ctx context.Context) error {
	events, err := f.subscriber.Subscribe(ctx)
	if err != nil {
		return err
	}
	f.logger.Info("chat fan-out subscribed", zap.String("origin", f.origin))
	for event := range events {
		if event.Type != dto.EventNewMessage {
			continue
		}
		var payload dto.NewMessage
		if err := event.UnmarshalPayload(&payload); err != nil {
			f.logger.Sugar().Warnw("dropping malformed chat event", "subject_id", event.SubjectID, "origin", event.Origin, "error", err)
			continue
		}
		if err := f.local.deliver(payload); err != nil {
			f.logger.Sugar().Warnw("chat delivery failed", "subject_id", payload.SubjectID, "error", err)
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return errors.New("chat subscription closed")
}
