// Package events fans queue changes out to live boards, either directly to
// the local websocket hub or across instances through Redis pub/sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/chokoronadal/wbhsms/internal/platform/websocket"
)

const (
	TypeQueueCreated       = "queue.created"
	TypeQueueStatusChanged = "queue.status_changed"
	TypeQueueReinstated    = "queue.reinstated"
)

// Event is the frame pushed to board clients.
type Event struct {
	Type           string    `json:"type"`
	Topics         []string  `json:"topics"`
	QueueEntryID   int64     `json:"queue_entry_id"`
	StationID      int64     `json:"station_id"`
	QueueType      string    `json:"queue_type"`
	FormattedCode  string    `json:"formatted_code"`
	PriorityLevel  string    `json:"priority_level"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// QueueTopics returns the board topics an entry's events go to.
func QueueTopics(stationID int64, queueType string) []string {
	return []string{
		websocket.StationTopicPrefix + strconv.FormatInt(stationID, 10),
		websocket.QueueTypeTopicPrefix + queueType,
	}
}

// Publisher delivers events to boards.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Local delivers straight to an in-process hub.
type Local struct {
	hub *websocket.Hub
}

func NewLocal(hub *websocket.Hub) *Local {
	return &Local{hub: hub}
}

func (l *Local) Publish(_ context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	l.hub.Deliver(ev.Topics, payload)
	return nil
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// BestEffort wraps a Publisher so failures are logged instead of returned.
type BestEffort struct {
	next   Publisher
	logger zerolog.Logger
}

func NewBestEffort(next Publisher, logger zerolog.Logger) *BestEffort {
	return &BestEffort{next: next, logger: logger}
}

// Emit publishes ev, logging any failure.
func (b *BestEffort) Emit(ctx context.Context, ev Event) {
	if b == nil || b.next == nil {
		return
	}
	if err := b.next.Publish(ctx, ev); err != nil {
		b.logger.Warn().Err(err).
			Str("event_type", ev.Type).
			Int64("queue_entry_id", ev.QueueEntryID).
			Msg("queue event not published")
	}
}
