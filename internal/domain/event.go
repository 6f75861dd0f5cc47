package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// WebhookEvent names a lifecycle transition tenants can subscribe to.
type WebhookEvent string

const (
	EventTournamentCreated   WebhookEvent = "tournament.created"
	EventTournamentStarted   WebhookEvent = "tournament.started"
	EventTournamentCompleted WebhookEvent = "tournament.completed"
	EventMatchStarted        WebhookEvent = "match.started"
	EventMatchCompleted      WebhookEvent = "match.completed"
	EventPlayerRegistered    WebhookEvent = "player.registered"
	EventPlayerCheckedIn     WebhookEvent = "player.checked_in"
	EventPlayerEliminated    WebhookEvent = "player.eliminated"
)

// AllEvents lists every supported event in a stable order.
var AllEvents = []WebhookEvent{
	EventTournamentCreated,
	EventTournamentStarted,
	EventTournamentCompleted,
	EventMatchStarted,
	EventMatchCompleted,
	EventPlayerRegistered,
	EventPlayerCheckedIn,
	EventPlayerEliminated,
}

func (e WebhookEvent) Valid() bool {
	for _, known := range AllEvents {
		if e == known {
			return true
		}
	}
	return false
}

func (e WebhookEvent) String() string {
	return string(e)
}

// ParseEvents converts raw event names into a de-duplicated event set,
// preserving first-seen order.
func ParseEvents(names []string) ([]WebhookEvent, error) {
	if len(names) == 0 {
		return nil, ErrNoEventsSpecified
	}

	seen := make(map[WebhookEvent]struct{}, len(names))
	events := make([]WebhookEvent, 0, len(names))
	for _, name := range names {
		e := WebhookEvent(name)
		if !e.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEvent, name)
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		events = append(events, e)
	}
	return events, nil
}

// WebhookPayload is the envelope POSTed to subscriber endpoints.
// It is marshalled once at publish time; retries resend the same bytes.
type WebhookPayload struct {
	ID        string          `json:"id"`
	Event     WebhookEvent    `json:"event"`
	Timestamp string          `json:"timestamp"`
	TenantID  string          `json:"tenantId"`
	Data      json.RawMessage `json:"data"`
}

// NewPayload builds an envelope with a UTC millisecond-precision timestamp.
func NewPayload(eventID string, event WebhookEvent, tenantID string, data json.RawMessage, now time.Time) WebhookPayload {
	return WebhookPayload{
		ID:        eventID,
		Event:     event,
		Timestamp: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		TenantID:  tenantID,
		Data:      data,
	}
}
