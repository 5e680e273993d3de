package alerts

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/vitalwatch/vitalwatch/internal/platform/auth"
	"github.com/vitalwatch/vitalwatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "physician", "nurse")
	g := api.Group("", role)

	g.POST("/alerts", h.CreateAlert)
	g.GET("/alerts", h.ListAlerts)
	g.GET("/alerts/:id", h.GetAlert)

	g.POST("/alerts/:id/claim", h.ClaimAlert)
	g.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
	g.POST("/alerts/:id/resolve", h.ResolveAlert)
	g.POST("/alerts/:id/snooze", h.SnoozeAlert)
	g.POST("/alerts/:id/suppress", h.SuppressAlert)
	g.POST("/alerts/bulk-acknowledge", h.BulkAcknowledge)

	g.POST("/alerts/:id/rescore", h.RescoreAlert)
	g.POST("/alerts/:id/recalculate-sla", h.RecalculateSLA)

	g.GET("/organizations/:id/triage-queue", h.TriageQueue)
	g.POST("/organizations/:id/recalculate-ranks", h.RecalculateRanks)
}

// httpError maps domain sentinels to status codes. Claim conflicts are 409 so
// a dashboard can tell "someone beat you to it" apart from a stale alert.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "alert not found")
	case errors.Is(err, ErrClaimConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrTerminalState), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// alertView is an Alert plus the derived breach flag, evaluated at response
// time against the wall clock.
type alertView struct {
	*Alert
	SLABreached bool `json:"sla_breached"`
}

func viewOf(a *Alert) alertView {
	return alertView{Alert: a, SLABreached: a.Breached(time.Now().UTC())}
}

func viewsOf(items []*Alert) []alertView {
	views := make([]alertView, len(items))
	for i, a := range items {
		views[i] = viewOf(a)
	}
	return views
}

func (h *Handler) CreateAlert(c echo.Context) error {
	var in CreateAlertInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.CreateAlert(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, viewOf(a))
}

func (h *Handler) GetAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAlert(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewOf(a))
}

func (h *Handler) ListAlerts(c echo.Context) error {
	pg := pagination.FromContext(c)

	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.svc.ListByPatient(c.Request().Context(), pid, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(viewsOf(items), total, pg.Limit, pg.Offset))
	}

	orgID, err := uuid.Parse(c.QueryParam("organization_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "organization_id or patient_id is required")
	}
	var status *Status
	if raw := c.QueryParam("status"); raw != "" {
		st := Status(raw)
		status = &st
	}
	items, total, err := h.svc.ListByOrg(c.Request().Context(), orgID, status, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(viewsOf(items), total, pg.Limit, pg.Offset))
}

type claimRequest struct {
	ClinicianID uuid.UUID `json:"clinician_id"`
}

func (h *Handler) ClaimAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req claimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ClinicianID == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			req.ClinicianID = uid
		}
	}
	if req.ClinicianID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "clinician_id is required")
	}

	a, err := h.svc.Claim(c.Request().Context(), id, req.ClinicianID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewOf(a))
}

func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Acknowledge(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewOf(a))
}

type resolveRequest struct {
	ResolvedBy       uuid.UUID `json:"resolved_by"`
	Notes            string    `json:"notes"`
	TimeSpentMinutes *int      `json:"time_spent_minutes"`
}

func (h *Handler) ResolveAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ResolvedBy == uuid.Nil {
		if uid, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context())); err == nil {
			req.ResolvedBy = uid
		}
	}
	if req.ResolvedBy == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "resolved_by is required")
	}

	a, err := h.svc.Resolve(c.Request().Context(), id, req.ResolvedBy, req.Notes, req.TimeSpentMinutes)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewOf(a))
}

type snoozeRequest struct {
	Until time.Time `json:"until"`
}

func (h *Handler) SnoozeAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req snoozeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Snooze(c.Request().Context(), id, req.Until)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewOf(a))
}

func (h *Handler) SuppressAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Suppress(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewOf(a))
}

type bulkAcknowledgeRequest struct {
	AlertIDs []uuid.UUID `json:"alert_ids"`
}

func (h *Handler) BulkAcknowledge(c echo.Context) error {
	var req bulkAcknowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.AlertIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "alert_ids is required")
	}
	result, err := h.svc.BulkAcknowledge(c.Request().Context(), req.AlertIDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) RescoreAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.Rescore(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewOf(a))
}

func (h *Handler) RecalculateSLA(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.RecalculateSLA(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, viewOf(a))
}

func (h *Handler) TriageQueue(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid organization id")
	}
	queue, err := h.svc.TriageQueue(c.Request().Context(), orgID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"organization_id": orgID,
		"alerts":          viewsOf(queue),
	})
}

func (h *Handler) RecalculateRanks(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid organization id")
	}
	updated, err := h.svc.RecalculateRanks(c.Request().Context(), orgID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": updated})
}
