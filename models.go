package main

import (
	"time"
)

// Item is a piece of content we track engagement for. Item rows are owned
// by the ingestion side; the refresh machinery only ever reads them.
type Item struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Title        string    `json:"title"`
	Url          string    `gorm:"uniqueIndex" json:"url"`
	Status       string    `json:"status"`
	Published    time.Time `json:"published"`
	CommentCount int64     `json:"comment_count"`
}

const StatusPublished = "publish"

// Counter holds one cached metric value for one item.
type Counter struct {
	ID      uint   `gorm:"primarykey"`
	Item    uint   `gorm:"uniqueIndex:idx_counters_itemmetric"`
	Metric  string `gorm:"uniqueIndex:idx_counters_itemmetric"`
	Value   int64
	Updated time.Time
}

// Setting is a generic key/value row for persisted runtime configuration.
type Setting struct {
	ID     uint   `gorm:"primarykey"`
	Key    string `gorm:"uniqueIndex"`
	StrVal string
	IntVal int64
}

const (
	MetricFacebook    = "facebook"
	MetricTwitter     = "twitter"
	MetricGooglePlus  = "googleplus"
	MetricLinkedIn    = "linkedin"
	MetricPinterest   = "pinterest"
	MetricDiggs       = "diggs"
	MetricDelicious   = "delicious"
	MetricReddit      = "reddit"
	MetricStumbleUpon = "stumbleupon"

	MetricTotal       = "total"
	MetricPageviews   = "pageviews"
	MetricLastUpdated = "last_updated"
)

// ShareProviders lists every share provider folded into the total, in the
// order we report them.
var ShareProviders = []string{
	MetricFacebook,
	MetricTwitter,
	MetricGooglePlus,
	MetricLinkedIn,
	MetricPinterest,
	MetricDiggs,
	MetricDelicious,
	MetricReddit,
	MetricStumbleUpon,
}
