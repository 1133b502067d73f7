// Package domain holds the core entities the dispatch pipeline operates on:
// Request, Attempt, DeadLetter and the static Provider configuration.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the lifecycle state of a Request.
type RequestStatus string

const (
	StatusPending         RequestStatus = "PENDING"
	StatusInFlight        RequestStatus = "IN_FLIGHT"
	StatusSucceeded       RequestStatus = "SUCCEEDED"
	StatusFailedPermanent RequestStatus = "FAILED_PERMANENT"
)

// Terminal reports whether the status is immutable once reached.
func (s RequestStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedPermanent
}

// AttemptStatus is the outcome of a single outbound provider call.
type AttemptStatus string

const (
	AttemptOK             AttemptStatus = "OK"
	AttemptErrorTransient AttemptStatus = "ERROR_TRANSIENT"
	AttemptErrorPermanent AttemptStatus = "ERROR_PERMANENT"
	AttemptTimeout        AttemptStatus = "TIMEOUT"
)

// DeadLetterReason explains why a Request was abandoned.
type DeadLetterReason string

const (
	ReasonMaxAttemptsExceeded           DeadLetterReason = "MAX_ATTEMPTS_EXCEEDED"
	ReasonNoProviderAvailablePersistent DeadLetterReason = "NO_PROVIDER_AVAILABLE_PERSISTENT"

	// ReasonProviderPermanentRejection covers a provider's own 4xx business
	// rejection, as distinct from attempt-budget exhaustion.
	ReasonProviderPermanentRejection DeadLetterReason = "PROVIDER_PERMANENT_REJECTION"
)

// Request is a single accepted SMS send request.
type Request struct {
	ID                uuid.UUID
	Phone             string
	Text              string
	Status            RequestStatus
	AttemptsCount     int
	LastProviderID    *string
	ExcludedProviders []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Attempt is one outbound call to one provider for one Request.
type Attempt struct {
	ID                    int
	RequestID             uuid.UUID
	ProviderID            string
	StartedAt             time.Time
	EndedAt               time.Time
	Status                AttemptStatus
	HTTPStatus            int
	ResponseBodyTruncated string
	ErrorMessage          string
}

// DeadLetter is the terminal record of a Request that could not be delivered.
type DeadLetter struct {
	RequestID        uuid.UUID
	Reason           DeadLetterReason
	AttemptsSnapshot int
	CreatedAt        time.Time
}

// Provider is the static configuration for one outbound SMS endpoint.
type Provider struct {
	ID             string
	URL            string
	Weight         int
	PerSecondLimit int
}
