package main

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) runApiServer(bind string) error {

	e := echo.New()
	e.Use(middleware.CORS())
	e.GET("/debug", s.handleGetDebugInfo)
	api := e.Group("/api")
	api.GET("/ranking", s.handleGetRanking)
	api.POST("/items", s.handleCreateItem)
	api.GET("/items/:id/metrics", s.handleGetItemMetrics)
	api.POST("/items/:id/refresh", s.handleRequestRefresh)
	api.GET("/settings", s.handleGetSettings)
	api.PUT("/settings", s.handlePutSettings)
	api.PUT("/settings/credential", s.handlePutCredential)
	admin := api.Group("/admin")
	admin.POST("/backfill", s.handleBackfill)
	admin.POST("/teardown", s.handleTeardown)

	return e.Start(bind)
}

func (s *Server) handleGetDebugInfo(e echo.Context) error {
	return e.JSON(200, map[string]any{
		"pending_jobs": s.sched.PendingCount(),
	})
}

func paramItemID(e echo.Context) (uint, bool) {
	id, err := strconv.ParseUint(e.Param("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// handleGetItemMetrics is the content view path: it returns the cached
// record and doubles as the read trigger for the staleness check.
func (s *Server) handleGetItemMetrics(e echo.Context) error {
	ctx := e.Request().Context()

	id, ok := paramItemID(e)
	if !ok {
		return e.JSON(400, map[string]any{"error": "invalid item id"})
	}

	var item Item
	if err := s.db.First(&item, id).Error; err != nil {
		return e.JSON(404, map[string]any{"error": "unknown item"})
	}

	scheduled := s.sched.ItemViewed(ctx, item.ID, item.Status)

	rec, err := s.store.Record(ctx, item.ID)
	if err != nil {
		return err
	}

	return e.JSON(200, map[string]any{
		"item":              item,
		"metrics":           rec,
		"refresh_scheduled": scheduled,
	})
}

func (s *Server) handleRequestRefresh(e echo.Context) error {
	id, ok := paramItemID(e)
	if !ok {
		return e.JSON(400, map[string]any{"error": "invalid item id"})
	}

	scheduled := s.sched.RequestRefresh(e.Request().Context(), id)
	return e.JSON(200, map[string]any{"scheduled": scheduled})
}

func (s *Server) handleCreateItem(e echo.Context) error {
	var item Item
	if err := e.Bind(&item); err != nil {
		return e.JSON(400, map[string]any{"error": "invalid item body"})
	}
	if item.Url == "" {
		return e.JSON(400, map[string]any{"error": "item url is required"})
	}
	if item.Status == "" {
		item.Status = StatusPublished
	}

	if err := s.db.Create(&item).Error; err != nil {
		return err
	}

	return e.JSON(200, item)
}

func (s *Server) handleGetRanking(e echo.Context) error {
	ctx := e.Request().Context()

	settings, err := loadSettings(s.db)
	if err != nil {
		return err
	}

	q := RankingQuery{
		Sort:        e.QueryParam("sort"),
		RangeMonths: -1,
	}
	if v := e.QueryParam("range"); v != "" {
		months, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return e.JSON(400, map[string]any{"error": "invalid range"})
		}
		q.RangeMonths = months
	}
	if v := e.QueryParam("page"); v != "" {
		q.Page, _ = strconv.Atoi(v)
	}
	if v := e.QueryParam("per_page"); v != "" {
		q.PerPage, _ = strconv.Atoi(v)
	}

	page, err := BuildRanking(ctx, s.db, s.store, settings, q)
	if err != nil {
		return e.JSON(400, map[string]any{"error": err.Error()})
	}

	return e.JSON(200, page)
}

func (s *Server) handleGetSettings(e echo.Context) error {
	settings, err := loadSettings(s.db)
	if err != nil {
		return err
	}
	return e.JSON(200, settings)
}

func (s *Server) handlePutSettings(e echo.Context) error {
	settings, err := loadSettings(s.db)
	if err != nil {
		return err
	}
	if err := e.Bind(&settings); err != nil {
		return e.JSON(400, map[string]any{"error": "invalid settings body"})
	}
	if !validSortColumn(settings.SortColumn) {
		return e.JSON(400, map[string]any{"error": "invalid sort column"})
	}

	if err := saveSettings(s.db, settings); err != nil {
		return err
	}
	return e.JSON(200, settings)
}

func (s *Server) handlePutCredential(e echo.Context) error {
	var body struct {
		Token string `json:"token"`
	}
	if err := e.Bind(&body); err != nil {
		return e.JSON(400, map[string]any{"error": "invalid credential body"})
	}

	if err := saveAnalyticsToken(s.db, body.Token); err != nil {
		return err
	}
	return e.NoContent(http.StatusNoContent)
}

func (s *Server) handleBackfill(e echo.Context) error {
	plan, err := s.sched.ScheduleBackfill(e.Request().Context())
	if err != nil {
		return err
	}

	return e.JSON(200, map[string]any{
		"jobs": len(plan),
		"plan": plan,
	})
}

func (s *Server) handleTeardown(e echo.Context) error {
	if err := s.sched.Teardown(e.Request().Context()); err != nil {
		return err
	}
	return e.NoContent(http.StatusNoContent)
}
