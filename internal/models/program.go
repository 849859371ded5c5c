package models

import "time"

// Program is a single broadcast slot on a logical channel.
// (ChannelID, StartTime, EndTime, Title) is the natural key.
type Program struct {
	ID             int64     `json:"id"`
	ChannelID      int64     `json:"channel_id"`
	ProviderID     int64     `json:"provider_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	Title          string    `json:"title"`
	Subtitle       *string   `json:"subtitle,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Category       *string   `json:"category,omitempty"`
	EpisodeNum     *string   `json:"episode_num,omitempty"`
	Rating         *string   `json:"rating,omitempty"`
	Actors         []string  `json:"actors"`
	Directors      []string  `json:"directors"`
	Presenters     []string  `json:"presenters"`
	Writers        []string  `json:"writers"`
	Producers      []string  `json:"producers"`
	IconURL        *string   `json:"icon_url,omitempty"`
	ProductionYear *string   `json:"production_year,omitempty"`
	Country        *string   `json:"country,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DedupCandidate is the slice of a programme row the fuzzy dedup pass needs.
type DedupCandidate struct {
	ID         int64     `json:"id"`
	ChannelID  int64     `json:"channel_id"`
	ProviderID int64     `json:"provider_id"`
	StartTime  time.Time `json:"start_time"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
}
