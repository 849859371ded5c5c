package models

// ImportStatus is the state of an ImportLog row.
type ImportStatus string

// Import states. A row is created as running and ends as success or failed.
const (
	ImportRunning ImportStatus = "running"
	ImportSuccess ImportStatus = "success"
	ImportFailed  ImportStatus = "failed"
)

// Alias types used by the API and the import pipeline.
const (
	AliasTypeEPGID  = "epg_id"
	AliasTypeSlug   = "slug"
	AliasTypeCustom = "custom"
)
