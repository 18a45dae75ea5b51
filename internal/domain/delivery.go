package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryOutcome records the result of delivering one record, including
// how many attempts the executor spent on it. Transient: aggregated into
// the event summary and discarded.
type DeliveryOutcome struct {
	AttemptID uuid.UUID
	Resource  string // "Type/id"
	Attempts  int
	Success   bool
	Error     string

	StartedAt  time.Time
	FinishedAt time.Time
}
