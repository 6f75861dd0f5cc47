// Package domain contains the core business entities and logic.
package domain

import "errors"

// Sentinel errors for common domain error cases.
// These allow handlers to check error types without coupling to infrastructure.
var (
	// ErrNotFound indicates the requested resource does not exist, or exists
	// under a different tenant.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidURL indicates a webhook URL that does not parse or is not HTTPS.
	ErrInvalidURL = errors.New("invalid webhook url: must be an absolute https url")

	// ErrNoEventsSpecified indicates a webhook with an empty event set.
	ErrNoEventsSpecified = errors.New("at least one event must be specified")

	// ErrInvalidEvent indicates an event name outside the supported set.
	ErrInvalidEvent = errors.New("unsupported webhook event")

	// ErrInvalidStatus indicates a webhook status other than active or inactive.
	ErrInvalidStatus = errors.New("status must be active or inactive")

	// ErrAPIKeyNotFound indicates the API key is unknown, inactive, or owned by another tenant.
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrEntityNotFound indicates the tournament, match or player behind an event does not exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidState indicates the entity does not satisfy the event's preconditions.
	ErrInvalidState = errors.New("entity not in a publishable state")

	// ErrInvalidPayload indicates event data that violates the event's contract.
	ErrInvalidPayload = errors.New("event data does not match contract")

	// ErrAlreadyDelivered indicates a retry or success write on a delivered delivery.
	ErrAlreadyDelivered = errors.New("delivery already delivered")
)
