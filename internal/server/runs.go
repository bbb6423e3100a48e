package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/alphy/config"
	"github.com/mohammad-safakhou/alphy/internal/research"
	"github.com/mohammad-safakhou/alphy/internal/session"
)

// RunsHandler exposes run lifecycle operations.
type RunsHandler struct {
	cfg      *config.Config
	engine   *research.Engine
	registry *session.Registry
	logger   *log.Logger
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/refine", h.refine)
	g.POST("/:id/approve", h.approve)
	g.POST("/:id/execute", h.execute)
	g.GET("/:id/report", h.report)
	g.GET("/:id/search", h.search)
}

type createRunRequest struct {
	Query         string `json:"query"`
	MaxIterations int    `json:"max_iterations,omitempty"`
	AutoApprove   *bool  `json:"auto_approve,omitempty"`
}

type runResponse struct {
	RunID    string             `json:"run_id"`
	Query    string             `json:"query"`
	Phase    string             `json:"phase"`
	Approved bool               `json:"approved"`
	Partial  bool               `json:"partial"`
	Plan     research.Plan      `json:"plan"`
	State    research.StoreView `json:"state"`
}

func (h *RunsHandler) create(c echo.Context) error {
	var req createRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	var opts []research.RunOption
	if req.MaxIterations > 0 {
		opts = append(opts, research.WithMaxIterations(req.MaxIterations))
	}

	run, err := h.engine.NewRun(c.Request().Context(), req.Query, opts...)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	entry, err := h.registry.Add(run)
	if err != nil {
		return err
	}

	autoApprove := h.cfg.Server.AutoApprove
	if req.AutoApprove != nil {
		autoApprove = *req.AutoApprove
	}
	if autoApprove {
		if err := h.engine.Approve(run); err != nil {
			return err
		}
		h.startExecution(entry)
	}
	return c.JSON(http.StatusCreated, toResponse(run))
}

func (h *RunsHandler) list(c echo.Context) error {
	entries := h.registry.List()
	out := make([]runResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toResponse(entry.Run))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) get(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toResponse(entry.Run))
}

type refineRequest struct {
	Feedback string `json:"feedback"`
}

func (h *RunsHandler) refine(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	var req refineRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(req.Feedback) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback is required")
	}

	plan, err := h.engine.Refine(c.Request().Context(), entry.Run, req.Feedback)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *RunsHandler) approve(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	if err := h.engine.Approve(entry.Run); err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, toResponse(entry.Run))
}

func (h *RunsHandler) execute(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	if !entry.Run.Approved() {
		return echo.NewHTTPError(http.StatusConflict, research.ErrPlanNotApproved.Error())
	}
	if entry.Run.Phase() != research.PhasePlanning {
		return echo.NewHTTPError(http.StatusConflict, "run already executing or done")
	}
	h.startExecution(entry)
	return c.JSON(http.StatusAccepted, toResponse(entry.Run))
}

func (h *RunsHandler) report(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	report := entry.Run.Report()
	if report == "" {
		return echo.NewHTTPError(http.StatusConflict, "report not ready")
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(report))
}

func (h *RunsHandler) search(c echo.Context) error {
	entry, err := h.entry(c)
	if err != nil {
		return err
	}
	q := c.QueryParam("q")
	if strings.TrimSpace(q) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k := 10
	if raw := c.QueryParam("k"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			k = n
		}
	}

	hits, err := entry.Search(q, k)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"hits": hits})
}

// startExecution drives the run in the background; the HTTP caller
// polls GET /api/runs/:id for progress.
func (h *RunsHandler) startExecution(entry *session.Entry) {
	go func() {
		if err := h.engine.Execute(context.Background(), entry.Run); err != nil {
			if !errors.Is(err, research.ErrPlanNotApproved) {
				h.logger.Printf("run %s execution: %v", entry.RunID, err)
			}
			return
		}
		if err := entry.Reindex(); err != nil {
			h.logger.Printf("run %s reindex: %v", entry.RunID, err)
		}
	}()
}

func (h *RunsHandler) entry(c echo.Context) (*session.Entry, error) {
	entry, ok := h.registry.Get(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return entry, nil
}

func toResponse(run *research.Run) runResponse {
	return runResponse{
		RunID:    run.ID,
		Query:    run.Query,
		Phase:    string(run.Phase()),
		Approved: run.Approved(),
		Partial:  run.Partial(),
		Plan:     run.Plan(),
		State:    run.Snapshot(),
	}
}
