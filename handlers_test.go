package main

import (
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	db := testDB(t)
	store := testStore(t, db)
	return &Server{
		db:    db,
		store: store,
		sched: NewScheduler(db, store, testProviders(t, shareCountHandler(shareFixture))),
	}
}

func TestHandleGetItemMetricsTriggersRefresh(t *testing.T) {
	s := testServer(t)
	item := testItem(t, s.db, "one", time.Now(), 0)

	e := echo.New()
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(strconv.Itoa(int(item.ID)))

	require.NoError(t, s.handleGetItemMetrics(c))
	assert.Equal(t, 200, rec.Code)

	var resp struct {
		RefreshScheduled bool `json:"refresh_scheduled"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// a cold item viewed for the first time schedules a refresh
	assert.True(t, resp.RefreshScheduled)
	assert.Equal(t, 1, s.sched.PendingCount())
}

func TestHandleGetItemMetricsUnknownItem(t *testing.T) {
	s := testServer(t)

	e := echo.New()
	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("12345")

	require.NoError(t, s.handleGetItemMetrics(c))
	assert.Equal(t, 404, rec.Code)
}

func TestHandleCreateItem(t *testing.T) {
	s := testServer(t)

	e := echo.New()
	body := `{"title": "hello", "url": "https://example.com/hello"}`
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	require.NoError(t, s.handleCreateItem(e.NewContext(req, rec)))
	assert.Equal(t, 200, rec.Code)

	var item Item
	require.NoError(t, s.db.First(&item, "url = ?", "https://example.com/hello").Error)
	assert.Equal(t, StatusPublished, item.Status)
}

func TestHandleGetRanking(t *testing.T) {
	s := testServer(t)
	item := testItem(t, s.db, "one", time.Now(), 0)
	seedTotals(t, s.store, item.ID, 40, 0, 0)

	e := echo.New()
	req := httptest.NewRequest("GET", "/?sort=social-total&range=0", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, s.handleGetRanking(e.NewContext(req, rec)))
	assert.Equal(t, 200, rec.Code)

	var page RankingPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Rows, 1)
	assert.Equal(t, 100, page.Rows[0].BarWidth)
}

func TestHandlePutSettingsRejectsBadSort(t *testing.T) {
	s := testServer(t)

	e := echo.New()
	req := httptest.NewRequest("PUT", "/", strings.NewReader(`{"default_sort_column": "bogus"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	require.NoError(t, s.handlePutSettings(e.NewContext(req, rec)))
	assert.Equal(t, 400, rec.Code)
}
