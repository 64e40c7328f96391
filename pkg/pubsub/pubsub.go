package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Event is the envelope exchanged between service instances.
type Event struct {
	Type      string          `json:"type"`
	SubjectID string          `json:"subject_id"`
	Origin    string          `json:"origin"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(eventType, subjectID, origin string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		Type:      eventType,
		SubjectID: subjectID,
		Origin:    origin,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// UnmarshalPayload decodes the event payload into v.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Publisher publishes events for a subject.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Subscriber streams events for every subject until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan *Event, error)
}

// Channels derives the Redis channel names for subject rooms.
type Channels struct {
	Prefix string
}

// Subject returns the channel for one subject room.
func (c Channels) Subject(subjectID string) string {
	return fmt.Sprintf("%s:subject:%s", c.prefix(), subjectID)
}

// Pattern matches every subject channel.
func (c Channels) Pattern() string {
	return c.prefix() + ":subject:*"
}

func (c Channels) prefix() string {
	p := strings.TrimRight(c.Prefix, ":")
	if p == "" {
		return "classlinker:chat"
	}
	return p
}
