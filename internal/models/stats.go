package models

import "time"

// DayCount is the number of programmes starting on a given UTC date.
type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Statistics summarises the guide database.
type Statistics struct {
	TotalChannels     int64      `json:"total_channels"`
	TotalPrograms     int64      `json:"total_programs"`
	TotalProviders    int64      `json:"total_providers"`
	TotalAliases      int64      `json:"total_aliases"`
	EarliestProgram   *time.Time `json:"earliest_program,omitempty"`
	LatestProgram     *time.Time `json:"latest_program,omitempty"`
	DaysCovered       int64      `json:"days_covered"`
	ProgramsLast7Days []DayCount `json:"programs_last_7_days"`
	ImportsTotal      int64      `json:"imports_total"`
	ImportsSuccessful int64      `json:"imports_successful"`
	ImportsFailed     int64      `json:"imports_failed"`
	LastImport        *time.Time `json:"last_import,omitempty"`
}

// AliasStatistics describes alias coverage across channels.
type AliasStatistics struct {
	TotalAliases           int64            `json:"total_aliases"`
	ChannelsWithAliases    int64            `json:"channels_with_aliases"`
	TotalChannels          int64            `json:"total_channels"`
	ChannelsWithoutAliases int64            `json:"channels_without_aliases"`
	AvgAliasesPerChannel   float64          `json:"avg_aliases_per_channel"`
	TypeDistribution       map[string]int64 `json:"type_distribution"`
}
