package domain

import (
	"math"
	"net/url"
	"time"
)

// Webhook is a tenant-registered HTTPS endpoint subscribed to a set of events.
type Webhook struct {
	ID                   string         `json:"id"`
	TenantID             string         `json:"tenantId"`
	APIKeyID             string         `json:"apiKeyId"`
	URL                  string         `json:"url"`
	Secret               string         `json:"secret,omitempty"`
	Events               []WebhookEvent `json:"events"`
	IsActive             bool           `json:"isActive"`
	DeliverySuccessCount int            `json:"deliverySuccessCount"`
	DeliveryFailureCount int            `json:"deliveryFailureCount"`
	LastDeliveryAt       *time.Time     `json:"lastDeliveryAt,omitempty"`
	LastError            *string        `json:"lastError,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
}

// WebhookStats holds the values derived from the delivery counters.
type WebhookStats struct {
	TotalDeliveries int     `json:"totalDeliveries"`
	SuccessRate     float64 `json:"successRate"`
}

func (w *Webhook) MatchesEvent(event WebhookEvent) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Stats returns total deliveries and the success rate as a percentage
// rounded to two decimals. A webhook with no deliveries has a rate of 0.
func (w *Webhook) Stats() WebhookStats {
	total := w.DeliverySuccessCount + w.DeliveryFailureCount
	if total == 0 {
		return WebhookStats{}
	}
	rate := float64(w.DeliverySuccessCount) / float64(total) * 100
	return WebhookStats{
		TotalDeliveries: total,
		SuccessRate:     math.Round(rate*100) / 100,
	}
}

// Redacted returns a copy without the signing secret.
func (w Webhook) Redacted() Webhook {
	w.Secret = ""
	return w
}

// ValidateURL accepts only absolute https URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidURL
	}
	if u.Scheme != "https" || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// APIKey is the credential a webhook is registered under. It is owned by the
// auth layer; this service only reads it.
type APIKey struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Active   bool   `json:"active"`
}
