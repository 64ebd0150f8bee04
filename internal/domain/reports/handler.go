package reports

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medlab/medlab/internal/platform/access"
	"github.com/medlab/medlab/internal/platform/auth"
	"github.com/medlab/medlab/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/reports/summary", h.Summary)

	staff := auth.RequireRole(access.RoleModerator)
	api.GET("/reports", h.ListReports, staff)
	api.GET("/reports/:id", h.GetReport, staff)
	api.POST("/reports", h.SaveReport, staff)
	api.DELETE("/reports/:id", h.DeleteReport, auth.RequireRole(access.RoleAdministrator))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, access.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

// filterFromQuery parses the optional from/to/type/patient query
// parameters. Dates accept RFC 3339 or plain YYYY-MM-DD.
func filterFromQuery(c echo.Context) (Filter, error) {
	var filter Filter
	if v := c.QueryParam("from"); v != "" {
		ts, err := parseDateParam(v)
		if err != nil {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid from date")
		}
		filter.From = &ts
	}
	if v := c.QueryParam("to"); v != "" {
		ts, err := parseDateParam(v)
		if err != nil {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid to date")
		}
		filter.To = &ts
	}
	if v := c.QueryParam("type"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid type filter")
		}
		filter.TypeID = id
	}
	if v := c.QueryParam("patient"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return filter, echo.NewHTTPError(http.StatusBadRequest, "invalid patient filter")
		}
		filter.PatientID = id
	}
	return filter, nil
}

func parseDateParam(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", v)
}

// Summary returns a live aggregate without persisting it.
func (h *Handler) Summary(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	filter, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	summary, err := h.svc.Aggregate(c.Request().Context(), actor, filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, summary)
}

type saveReportRequest struct {
	Title     string     `json:"title"`
	Type      string     `json:"type"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
	TypeID    uuid.UUID  `json:"type_id"`
	PatientID uuid.UUID  `json:"patient_id"`
}

func (h *Handler) SaveReport(c echo.Context) error {
	var req saveReportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Type == "" {
		req.Type = TypeCustom
	}
	actor := auth.ActorFromContext(c.Request().Context())
	r, err := h.svc.Save(c.Request().Context(), actor, SaveInput{
		Title: req.Title,
		Type:  req.Type,
		Filter: Filter{
			From:      req.DateFrom,
			To:        req.DateTo,
			TypeID:    req.TypeID,
			PatientID: req.PatientID,
		},
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	r, err := h.svc.Get(c.Request().Context(), actor, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ListReports(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) DeleteReport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.Delete(c.Request().Context(), actor, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
