package models

import "time"

// ImportLog is the audit row of one import attempt.
type ImportLog struct {
	ID               int64        `json:"id"`
	ProviderID       int64        `json:"provider_id"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
	Status           ImportStatus `json:"status"`
	ProgramsImported int          `json:"programs_imported"`
	ProgramsSkipped  int          `json:"programs_skipped"`
	ErrorMessage     *string      `json:"error_message,omitempty"`
}
