package domain

import "time"

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further status transition is valid.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// GenerationJob tracks an in-flight external video job together with the
// quota reservation it consumed. Records live in the job state store under a
// TTL; the settlement worker carries its own copy of the reservation key so
// it can still settle after the record expires.
type GenerationJob struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	CacheKey      string    `json:"cache_key"`
	ProviderJobID string    `json:"provider_job_id"`
	Status        JobStatus `json:"status"`
	Prompt        string    `json:"prompt"`
	Style         string    `json:"style"`
	Seconds       int       `json:"seconds"`
	Size          string    `json:"size"`

	ReservationKey  string `json:"reservation_key"`
	ReservationDate string `json:"reservation_date"`
	// UsageFinalized and UsageRefunded are mutually exclusive; once either
	// is set the reservation is settled and must never be mutated again.
	UsageFinalized bool `json:"usage_finalized"`
	UsageRefunded  bool `json:"usage_refunded"`

	CreatedAt time.Time `json:"created_at"`
}

// Settled reports whether the job's reservation has already been finalized
// or refunded.
func (j *GenerationJob) Settled() bool {
	return j.UsageFinalized || j.UsageRefunded
}
