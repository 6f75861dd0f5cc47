package domain

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestTruncateBody(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantLen int
	}{
		{"empty", "", 0},
		{"short", "ok", 2},
		{"exact", strings.Repeat("a", MaxResponseBodyChars), MaxResponseBodyChars},
		{"long", strings.Repeat("a", 5000), MaxResponseBodyChars},
		{"multibyte", strings.Repeat("é", 1500), MaxResponseBodyChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateBody(tt.body)
			if n := utf8.RuneCountInString(got); n != tt.wantLen {
				t.Errorf("len = %d, want %d", n, tt.wantLen)
			}
			if !utf8.ValidString(got) {
				t.Error("truncated body is not valid utf-8")
			}
		})
	}
}

func TestWebhookDelivery_MarkAsDelivered(t *testing.T) {
	msg := "previous failure"
	d := WebhookDelivery{Status: DeliveryStatusRetrying, ErrorMessage: &msg}
	now := time.Now()

	d.MarkAsDelivered(now)

	if d.Status != DeliveryStatusDelivered {
		t.Errorf("Status = %v, want %v", d.Status, DeliveryStatusDelivered)
	}
	if !d.IsDelivered() || !d.DeliveredAt.Equal(now) {
		t.Errorf("DeliveredAt = %v, want %v", d.DeliveredAt, now)
	}
	if d.ErrorMessage != nil {
		t.Errorf("ErrorMessage = %v, want nil", *d.ErrorMessage)
	}
}

func TestWebhookDelivery_RecordAttempt(t *testing.T) {
	code := 503
	body := "unavailable"
	at := time.Now()
	d := WebhookDelivery{AttemptNumber: 1}

	d.RecordAttempt(&DeliveryAttempt{
		AttemptNumber: 2,
		StatusCode:    &code,
		ResponseBody:  &body,
		CreatedAt:     at,
	}, "sha256=abc")

	if d.AttemptNumber != 2 {
		t.Errorf("AttemptNumber = %d, want 2", d.AttemptNumber)
	}
	if d.Signature != "sha256=abc" {
		t.Errorf("Signature = %q, want sha256=abc", d.Signature)
	}
	if d.StatusCode == nil || *d.StatusCode != 503 {
		t.Errorf("StatusCode = %v, want 503", d.StatusCode)
	}
	if d.LastAttemptAt == nil || !d.LastAttemptAt.Equal(at) {
		t.Errorf("LastAttemptAt = %v, want %v", d.LastAttemptAt, at)
	}
}

func TestWebhookDelivery_AttemptsMade(t *testing.T) {
	d := &WebhookDelivery{AttemptNumber: 1}
	if got := d.AttemptsMade(); got != 0 {
		t.Errorf("new row AttemptsMade = %d, want 0", got)
	}

	d.RecordAttempt(&DeliveryAttempt{AttemptNumber: 3, CreatedAt: time.Now()}, "sha256=abc")
	if got := d.AttemptsMade(); got != 3 {
		t.Errorf("after attempt 3 AttemptsMade = %d, want 3", got)
	}
}
