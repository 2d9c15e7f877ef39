// Package server exposes the evaluate round-trip over HTTP for web-client
// style callers: the same JSON array of records goes in, the round-tripped
// array comes out.
package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/openimmunize/iceclient/internal/forecast"
	"github.com/openimmunize/iceclient/internal/platform/dss"
	"github.com/openimmunize/iceclient/internal/platform/vmr"
	"github.com/openimmunize/iceclient/internal/record"
)

// Handler serves the evaluate façade.
type Handler struct {
	svc *forecast.Service
}

// NewHandler creates a Handler backed by the given service.
func NewHandler(svc *forecast.Service) *Handler {
	return &Handler{svc: svc}
}

// New builds an echo instance with the façade routes and standard middleware.
func New(svc *forecast.Service, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(RequestLogger(logger))

	h := NewHandler(svc)
	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes binds the façade routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/evaluate", h.Evaluate)
	e.GET("/health", h.Health)
}

// recordError reports one failed record in a batch response.
type recordError struct {
	Index    int    `json:"index"`
	RecordID string `json:"record_id,omitempty"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// evaluateResponse is the façade response: the round-tripped array plus any
// per-record failures. Failed records appear in Records unchanged.
type evaluateResponse struct {
	Records []record.PatientRecord `json:"records"`
	Errors  []recordError          `json:"errors,omitempty"`
}

// Evaluate handles POST /evaluate. The body is the web-client JSON array; a
// body that does not parse as one is a 400. Per-record failures do not fail
// the request.
func (h *Handler) Evaluate(c echo.Context) error {
	var recs []record.PatientRecord
	if err := c.Bind(&recs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	updated, errs := h.svc.EvaluateAll(c.Request().Context(), recs)

	resp := evaluateResponse{Records: updated}
	for i, err := range errs {
		if err == nil {
			continue
		}
		resp.Errors = append(resp.Errors, recordError{
			Index:    i,
			RecordID: recs[i].ID,
			Kind:     classify(err),
			Error:    err.Error(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// classify names the error taxonomy bucket for a per-record failure.
func classify(err error) string {
	var malformedRecord *record.MalformedRecordError
	var malformedResponse *vmr.MalformedResponseError
	var transport *dss.TransportError
	switch {
	case errors.As(err, &malformedRecord):
		return "malformed_record"
	case errors.As(err, &malformedResponse):
		return "malformed_response"
	case errors.As(err, &transport):
		return "transport"
	default:
		return "internal"
	}
}
