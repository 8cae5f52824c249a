package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
)

// rankingWindowSize is the fixed top-N window the ranking surfaces.
// Pagination slices within this window, never the full corpus.
const rankingWindowSize = 6

const defaultRankingPerPage = 10

type RankingQuery struct {
	Sort        string
	RangeMonths int64
	Page        int
	PerPage     int
}

// RankingRow is a request-scoped projection of one item and its current
// counters, with the derived rendering percentages. Never persisted.
type RankingRow struct {
	ItemID    uint      `json:"item_id"`
	Title     string    `json:"title"`
	Url       string    `json:"url"`
	Published time.Time `json:"published"`

	Total    int64 `json:"total"`
	Facebook int64 `json:"facebook"`
	Twitter  int64 `json:"twitter"`
	Views    int64 `json:"views"`
	Comments int64 `json:"comments"`

	// BarWidth is the row total as a share of the window maximum.
	// FacebookPct/TwitterPct/OtherPct split the row's own total and sum
	// to exactly 100 for any row with a nonzero total.
	BarWidth    int `json:"bar_width"`
	FacebookPct int `json:"facebook_pct"`
	TwitterPct  int `json:"twitter_pct"`
	OtherPct    int `json:"other_pct"`
	ViewsPct    int `json:"views_pct"`
	CommentsPct int `json:"comments_pct"`

	LastUpdated time.Time `json:"last_updated"`
}

type RankingPage struct {
	Rows    []RankingRow `json:"rows"`
	Columns []string     `json:"columns"`

	Sort        string `json:"sort"`
	RangeMonths int64  `json:"range_months"`

	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`

	// window maxima the bars are scaled against, floored at 1. Fixed to
	// the full window so bars stay comparable across pages.
	MaxTotal    int64 `json:"max_total"`
	MaxViews    int64 `json:"max_views"`
	MaxComments int64 `json:"max_comments"`
}

// rankingWindow selects the top-N items for the requested sort key. The
// views and social sorts only consider items that actually have the
// backing counter; recency and comments rank everything published.
func rankingWindow(ctx context.Context, db *gorm.DB, sort string, months int64) ([]Item, error) {
	cutoff := time.Time{}
	if months > 0 {
		cutoff = time.Now().AddDate(0, -int(months), 0)
	}

	var items []Item
	var err error

	switch sort {
	case SortRecency:
		err = db.WithContext(ctx).Raw(`SELECT * FROM items
			WHERE status = ? AND published >= ?
			ORDER BY published DESC LIMIT ?`,
			StatusPublished, cutoff, rankingWindowSize).Scan(&items).Error
	case SortComments:
		err = db.WithContext(ctx).Raw(`SELECT * FROM items
			WHERE status = ? AND published >= ?
			ORDER BY comment_count DESC LIMIT ?`,
			StatusPublished, cutoff, rankingWindowSize).Scan(&items).Error
	case SortViews:
		err = db.WithContext(ctx).Raw(`SELECT items.* FROM items
			JOIN counters ON counters.item = items.id AND counters.metric = ?
			WHERE items.status = ? AND items.published >= ?
			ORDER BY counters.value DESC LIMIT ?`,
			MetricPageviews, StatusPublished, cutoff, rankingWindowSize).Scan(&items).Error
	case SortSocial:
		err = db.WithContext(ctx).Raw(`SELECT items.* FROM items
			JOIN counters ON counters.item = items.id AND counters.metric = ?
			WHERE items.status = ? AND items.published >= ?
			ORDER BY counters.value DESC LIMIT ?`,
			MetricTotal, StatusPublished, cutoff, rankingWindowSize).Scan(&items).Error
	default:
		return nil, fmt.Errorf("unknown sort column %q", sort)
	}
	if err != nil {
		return nil, err
	}

	return items, nil
}

func pctOfMax(v, max int64) int {
	return int(math.Round(float64(v) / float64(max) * 100))
}

// BuildRanking produces the ranked, normalized, paginated view over the
// counter store.
func BuildRanking(ctx context.Context, db *gorm.DB, store *CounterStore, settings Settings, q RankingQuery) (*RankingPage, error) {
	if q.Sort == "" {
		q.Sort = settings.SortColumn
	}
	if q.RangeMonths < 0 {
		q.RangeMonths = settings.DateRangeMonths
	}
	if q.PerPage <= 0 {
		q.PerPage = defaultRankingPerPage
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	items, err := rankingWindow(ctx, db, q.Sort, q.RangeMonths)
	if err != nil {
		return nil, err
	}

	rows := make([]RankingRow, 0, len(items))
	for _, it := range items {
		rec, err := store.Record(ctx, it.ID)
		if err != nil {
			return nil, err
		}

		row := RankingRow{
			ItemID:      it.ID,
			Title:       it.Title,
			Url:         it.Url,
			Published:   it.Published,
			Total:       rec.Count(MetricTotal),
			Facebook:    rec.Count(MetricFacebook),
			Twitter:     rec.Count(MetricTwitter),
			Comments:    it.CommentCount,
			LastUpdated: rec.LastUpdated,
		}
		if settings.EnableAnalytics {
			row.Views = rec.Count(MetricPageviews)
		}
		rows = append(rows, row)
	}

	// maxima are fixed to the whole window, floored at 1 so a cold corpus
	// never divides by zero
	var maxTotal, maxViews, maxComments int64 = 1, 1, 1
	for _, r := range rows {
		maxTotal = max(maxTotal, r.Total)
		maxViews = max(maxViews, r.Views)
		maxComments = max(maxComments, r.Comments)
	}

	for i := range rows {
		r := &rows[i]

		if r.Total > 0 {
			r.BarWidth = pctOfMax(r.Total, maxTotal)
			r.FacebookPct = int(r.Facebook * 100 / r.Total)
			r.TwitterPct = int(r.Twitter * 100 / r.Total)
			r.OtherPct = 100 - r.FacebookPct - r.TwitterPct
		}

		r.ViewsPct = pctOfMax(r.Views, maxViews)
		r.CommentsPct = pctOfMax(r.Comments, maxComments)
	}

	columns := []string{"title"}
	if settings.EnableSocial {
		columns = append(columns, "social")
	}
	if settings.EnableAnalytics {
		columns = append(columns, "views")
	}
	if settings.EnableComments {
		columns = append(columns, "comments")
	}

	totalItems := len(rows)
	totalPages := (totalItems + q.PerPage - 1) / q.PerPage

	// paginate within the already-ranked, already-maxed window; a page
	// past the end is empty, not an error
	start := (q.Page - 1) * q.PerPage
	end := start + q.PerPage
	if start > totalItems {
		start = totalItems
	}
	if end > totalItems {
		end = totalItems
	}

	return &RankingPage{
		Rows:        rows[start:end],
		Columns:     columns,
		Sort:        q.Sort,
		RangeMonths: q.RangeMonths,
		Page:        q.Page,
		PerPage:     q.PerPage,
		TotalItems:  totalItems,
		TotalPages:  totalPages,
		MaxTotal:    maxTotal,
		MaxViews:    maxViews,
		MaxComments: maxComments,
	}, nil
}
