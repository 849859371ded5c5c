package models

import "time"

// Channel is a logical, provider-agnostic channel. Name is the stable slug
// used to match provider channel tokens.
type Channel struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	IconURL     *string    `json:"icon_url,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

// ChannelAlias is an additional lookup key for a channel (EPG id, custom slug...).
type ChannelAlias struct {
	ID        int64      `json:"id"`
	ChannelID int64      `json:"channel_id"`
	Alias     string     `json:"alias"`
	AliasType *string    `json:"alias_type,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// AliasWithChannelInfo is an alias joined with the owning channel's names.
type AliasWithChannelInfo struct {
	ChannelAlias
	ChannelName        string `json:"channel_name"`
	ChannelDisplayName string `json:"channel_display_name"`
}

// ChannelMapping maps a provider's raw channel token onto a logical channel.
type ChannelMapping struct {
	ID                int64      `json:"id"`
	ProviderID        int64      `json:"provider_id"`
	ProviderChannelID string     `json:"provider_channel_id"`
	ChannelID         int64      `json:"channel_id"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	ProviderName      *string    `json:"provider_name,omitempty"` // populated by list queries
	ChannelName       *string    `json:"channel_name,omitempty"`  // populated by list queries
}
