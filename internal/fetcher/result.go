package fetcher

import (
	"errors"
	"fmt"
	"time"
)

// ChannelRecord is one <channel> element of a feed.
type ChannelRecord struct {
	Token       string
	DisplayName string
	IconURL     *string
}

// ProgramRecord is one <programme> element of a feed with times in UTC.
type ProgramRecord struct {
	ChannelToken   string
	Start          time.Time
	End            time.Time
	Title          string
	Subtitle       *string
	Description    *string
	Category       *string
	EpisodeNum     *string
	Rating         *string
	Actors         []string
	Directors      []string
	Presenters     []string
	Writers        []string
	Producers      []string
	IconURL        *string
	ProductionYear *string
	Country        *string
}

// RecordError marks a single element that could not be turned into a record.
// Decoding continues after it.
type RecordError struct {
	Element string // "channel" or "programme"
	Index   int    // zero-based position among elements of that kind
	Token   string // channel id, when known
	Reason  string
}

func (e *RecordError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s #%d (%s): %s", e.Element, e.Index, e.Token, e.Reason)
	}
	return fmt.Sprintf("%s #%d: %s", e.Element, e.Index, e.Reason)
}

// IsRecordError reports whether err concerns a single skippable record.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}

// FetchError is a failed feed download. It is fatal to one import attempt.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
