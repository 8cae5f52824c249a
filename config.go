package main

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Sort columns accepted by the ranking view.
const (
	SortRecency  = "recency"
	SortViews    = "views"
	SortComments = "comments"
	SortSocial   = "social-total"
)

// Settings is the persisted runtime configuration. It is loaded fresh at
// the start of each operation and passed down explicitly; nothing reads it
// from ambient state.
type Settings struct {
	EnableSocial    bool   `json:"enable_social"`
	EnableAnalytics bool   `json:"enable_analytics"`
	EnableComments  bool   `json:"enable_comments"`
	TTLHours        int64  `json:"ttl_hours"`
	DateRangeMonths int64  `json:"default_date_range_months"`
	SortColumn      string `json:"default_sort_column"`
}

func defaultSettings() Settings {
	return Settings{
		EnableSocial:    true,
		EnableAnalytics: true,
		EnableComments:  true,
		TTLHours:        24,
		DateRangeMonths: 12,
		SortColumn:      SortSocial,
	}
}

// TTL converts the configured hours into a duration. Zero or negative
// disables caching entirely.
func (s Settings) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

const (
	settingEnableSocial    = "enable_social"
	settingEnableAnalytics = "enable_analytics"
	settingEnableComments  = "enable_comments"
	settingTTLHours        = "ttl_hours"
	settingDateRange       = "default_date_range_months"
	settingSortColumn      = "default_sort_column"
	settingAnalyticsToken  = "analytics_token"
)

func validSortColumn(col string) bool {
	switch col {
	case SortRecency, SortViews, SortComments, SortSocial:
		return true
	}
	return false
}

func loadSettings(db *gorm.DB) (Settings, error) {
	out := defaultSettings()

	var rows []Setting
	if err := db.Find(&rows).Error; err != nil {
		return out, err
	}

	for _, r := range rows {
		switch r.Key {
		case settingEnableSocial:
			out.EnableSocial = r.IntVal != 0
		case settingEnableAnalytics:
			out.EnableAnalytics = r.IntVal != 0
		case settingEnableComments:
			out.EnableComments = r.IntVal != 0
		case settingTTLHours:
			out.TTLHours = r.IntVal
		case settingDateRange:
			out.DateRangeMonths = r.IntVal
		case settingSortColumn:
			if validSortColumn(r.StrVal) {
				out.SortColumn = r.StrVal
			}
		}
	}

	return out, nil
}

func storeSetting(db *gorm.DB, key string, strVal string, intVal int64) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"str_val", "int_val"}),
	}).Create(&Setting{
		Key:    key,
		StrVal: strVal,
		IntVal: intVal,
	}).Error
}

func boolVal(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func saveSettings(db *gorm.DB, s Settings) error {
	vals := []Setting{
		{Key: settingEnableSocial, IntVal: boolVal(s.EnableSocial)},
		{Key: settingEnableAnalytics, IntVal: boolVal(s.EnableAnalytics)},
		{Key: settingEnableComments, IntVal: boolVal(s.EnableComments)},
		{Key: settingTTLHours, IntVal: s.TTLHours},
		{Key: settingDateRange, IntVal: s.DateRangeMonths},
		{Key: settingSortColumn, StrVal: s.SortColumn},
	}
	for _, v := range vals {
		if err := storeSetting(db, v.Key, v.StrVal, v.IntVal); err != nil {
			return err
		}
	}
	return nil
}

// The analytics credential is an opaque blob, only ever checked for
// presence before use.
func loadAnalyticsToken(db *gorm.DB) (string, error) {
	var row Setting
	if err := db.Where("key = ?", settingAnalyticsToken).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		return "", err
	}
	return row.StrVal, nil
}

func saveAnalyticsToken(db *gorm.DB, token string) error {
	return storeSetting(db, settingAnalyticsToken, token, 0)
}

// clearSettings wipes all persisted configuration, credential included.
func clearSettings(db *gorm.DB) error {
	return db.Where("1 = 1").Delete(&Setting{}).Error
}
