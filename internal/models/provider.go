package models

import "time"

// Provider is an external XMLTV feed.
type Provider struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	XMLTVURL  string     `json:"xmltv_url"`
	Enabled   bool       `json:"enabled"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}
