package domain

// Event is an inbound notification naming a single root record to replicate.
// The id doubles as the idempotency key: an id is admitted at most once.
type Event struct {
	ID string
}

// ProcessStatus is the overall outcome of processing one event.
type ProcessStatus string

const (
	StatusOK        ProcessStatus = "ok"
	StatusDuplicate ProcessStatus = "duplicate"
	StatusError     ProcessStatus = "error"
)

// ProcessResult is the per-event summary returned to the transport layer.
// Delivered counts every record successfully upserted downstream (root,
// subject, and related records); there is no itemized breakdown.
type ProcessResult struct {
	ID        string        `json:"id"`
	Status    ProcessStatus `json:"status"`
	Delivered int           `json:"delivered"`
	Error     string        `json:"error,omitempty"`
}
