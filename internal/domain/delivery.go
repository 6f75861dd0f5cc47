package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// MaxResponseBodyChars bounds the response body kept on a delivery row.
const MaxResponseBodyChars = 1000

type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// WebhookDelivery records one event sent to one webhook. URL and payload are
// snapshots taken at publish time.
type WebhookDelivery struct {
	ID            string          `json:"id"`
	WebhookID     string          `json:"webhookId"`
	EventID       string          `json:"eventId"`
	EventType     WebhookEvent    `json:"eventType"`
	URL           string          `json:"url"`
	Payload       json.RawMessage `json:"payload"`
	Signature     string          `json:"signature"`
	Status        DeliveryStatus  `json:"status"`
	AttemptNumber int             `json:"attemptNumber"`
	StatusCode    *int            `json:"statusCode,omitempty"`
	ResponseBody  *string         `json:"responseBody,omitempty"`
	ErrorMessage  *string         `json:"errorMessage,omitempty"`
	DeliveredAt   *time.Time      `json:"deliveredAt,omitempty"`
	LastAttemptAt *time.Time      `json:"lastAttemptAt,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// DeliveryAttempt is one HTTP attempt against a delivery. Attempts are
// append-only.
type DeliveryAttempt struct {
	ID            int64     `json:"id"`
	DeliveryID    string    `json:"deliveryId"`
	AttemptNumber int       `json:"attemptNumber"`
	StatusCode    *int      `json:"statusCode,omitempty"`
	ResponseBody  *string   `json:"responseBody,omitempty"`
	ErrorMessage  *string   `json:"errorMessage,omitempty"`
	DurationMs    int       `json:"durationMs"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (d *WebhookDelivery) IsDelivered() bool {
	return d.DeliveredAt != nil
}

// AttemptsMade is the number of attempts already recorded. A new row carries
// AttemptNumber 1 before its first attempt.
func (d *WebhookDelivery) AttemptsMade() int {
	if d.LastAttemptAt == nil {
		return d.AttemptNumber - 1
	}
	return d.AttemptNumber
}

// RecordAttempt copies the outcome of an attempt onto the delivery.
func (d *WebhookDelivery) RecordAttempt(a *DeliveryAttempt, signature string) {
	d.AttemptNumber = a.AttemptNumber
	d.Signature = signature
	d.StatusCode = a.StatusCode
	d.ResponseBody = a.ResponseBody
	d.ErrorMessage = a.ErrorMessage
	at := a.CreatedAt
	d.LastAttemptAt = &at
	d.UpdatedAt = a.CreatedAt
}

func (d *WebhookDelivery) MarkAsDelivered(deliveredAt time.Time) {
	d.Status = DeliveryStatusDelivered
	d.DeliveredAt = &deliveredAt
	d.ErrorMessage = nil
	d.UpdatedAt = deliveredAt
}

func (d *WebhookDelivery) MarkAsRetrying(now time.Time) {
	d.Status = DeliveryStatusRetrying
	d.UpdatedAt = now
}

func (d *WebhookDelivery) MarkAsFailed(now time.Time) {
	d.Status = DeliveryStatusFailed
	d.UpdatedAt = now
}

// TruncateBody keeps the first MaxResponseBodyChars characters of body.
func TruncateBody(body string) string {
	if utf8.RuneCountInString(body) <= MaxResponseBodyChars {
		return body
	}
	n := 0
	for i := range body {
		if n == MaxResponseBodyChars {
			return body[:i]
		}
		n++
	}
	return body
}
