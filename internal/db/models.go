package db

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a Job or Payload. It is persisted as the
// lower-cased name; the JSON form uses the exported name ("Queued") so API
// responses read the same as the Go constants.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSubmitted  Status = "submitted"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCleaned    Status = "cleaned"
	// StatusPrepared is payload-only: inputs have landed on disk and the
	// runner may execute the bundle.
	StatusPrepared Status = "prepared"
)

var statusNames = map[Status]string{
	StatusUnknown:    "Unknown",
	StatusQueued:     "Queued",
	StatusProcessing: "Processing",
	StatusSubmitted:  "Submitted",
	StatusCompleted:  "Completed",
	StatusFailed:     "Failed",
	StatusCleaned:    "Cleaned",
	StatusPrepared:   "Prepared",
}

// StatusFromString folds a stored or user-supplied value into the closed
// status set. Anything unrecognized becomes StatusUnknown.
func StatusFromString(s string) Status {
	candidate := Status(strings.ToLower(s))
	if _, ok := statusNames[candidate]; ok {
		return candidate
	}
	return StatusUnknown
}

// Name returns the exported spelling, e.g. "Queued".
func (s Status) Name() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return statusNames[StatusUnknown]
}

func (s Status) String() string { return string(s) }

// Terminal reports whether the scheduler performs no further transitions out
// of this status (the janitor may still move any status to Cleaned).
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusUnknown, StatusCleaned:
		return true
	}
	return false
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Name())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = StatusFromString(raw)
	return nil
}

// Job is one end-to-end request through the orchestrator: uploaded by a user,
// forwarded to a destination service, polled for completion, downloadable.
// ID is zero until the row is first persisted. Loc is the job's artifact
// directory under the data root, assigned at construction and never changed.
type Job struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64  `gorm:"not null" json:"user_id"`
	Service   string `gorm:"not null" json:"service"`
	Status    Status `gorm:"type:text;not null" json:"status"`
	Loc       string `gorm:"not null" json:"loc"`
	// DestID is the identifier the destination returned at upload time.
	// Empty until the sender has submitted the job.
	DestID    string    `gorm:"default:''" json:"dest_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Payload is the client-side mirror of a Job: a script bundle staged under
// Loc and executed by the runner. Inputs are written straight to disk at
// submit time and never pass through this struct.
type Payload struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Status    Status    `gorm:"type:text;not null" json:"status"`
	Loc       string    `json:"loc"`
	CreatedAt time.Time `json:"created_at"`
}
