package report

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labflow/labflow/internal/platform/db"
)

type Handler struct {
	svc *Service
	log zerolog.Logger
}

func NewHandler(svc *Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patient-report", h.PatientReport)
	api.GET("/ln-report", h.LNReport)
	api.GET("/results", h.Results)
	api.GET("/results/by-order", h.ResultsByOrder)
	api.GET("/health-report", h.HealthReport)
	api.GET("/_probe", h.Probe)
}

// fail maps resolver errors onto the wire contract: a missing connection
// string gets its own code so operators can tell misconfiguration from a
// store failure; everything else is generic with no detail leaked.
func (h *Handler) fail(c echo.Context, err error) error {
	if errors.Is(err, db.ErrNoDatabaseURL) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "missing_database_url"})
	}
	h.log.Error().Err(err).Str("path", c.Path()).Msg("report query failed")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server_error"})
}

func param(c echo.Context, name string) string {
	return strings.TrimSpace(c.QueryParam(name))
}

// PatientReport handles GET /api/patient-report?cid=&ln=. Missing or
// unmatchable parameters are not errors here: the resolver degrades to an
// empty report so the caller can render a "no data" state.
func (h *Handler) PatientReport(c echo.Context) error {
	rep, err := h.svc.PatientReport(c.Request().Context(), param(c, "cid"), param(c, "ln"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) LNReport(c echo.Context) error {
	rep, err := h.svc.LNReport(c.Request().Context(), param(c, "ln"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// Results handles GET /api/results?cid=&ln=, the legacy flat-collection
// path. Unlike the report endpoints it requires both parameters.
func (h *Handler) Results(c echo.Context) error {
	cid := param(c, "cid")
	ln := param(c, "ln")
	if cid == "" || ln == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing_params"})
	}
	items, err := h.svc.Results(c.Request().Context(), cid, ln)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func (h *Handler) ResultsByOrder(c echo.Context) error {
	items, err := h.svc.ResultsByOrder(c.Request().Context(), param(c, "orderId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

func (h *Handler) HealthReport(c echo.Context) error {
	rep, err := h.svc.HealthReport(c.Request().Context(), param(c, "cid"), param(c, "ln"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

func (h *Handler) Probe(c echo.Context) error {
	rep, err := h.svc.Probe(c.Request().Context(), param(c, "cid"), param(c, "ln"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}
