package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/hours"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// HoursRegistry is satisfied by *hours.CachedRegistry.
type HoursRegistry interface {
	List(ctx context.Context, organizationID string) ([]model.BusinessHours, error)
	Upsert(ctx context.Context, h model.BusinessHours) error
}

type HoursHandler struct {
	registry HoursRegistry
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHoursHandler(registry HoursRegistry, logger *slog.Logger) *HoursHandler {
	return &HoursHandler{registry: registry, validate: newValidator(), logger: logger}
}

func (h *HoursHandler) Routes(r chi.Router) {
	r.Route("/business-hours", func(r chi.Router) {
		r.Use(auth.RequireRole("owner", "admin"))
		r.Get("/", h.List)
		r.Put("/{weekday}", h.Put)
	})
}

type hoursItem struct {
	Weekday   int    `json:"weekday"`
	DayName   string `json:"dayName"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Enabled   bool   `json:"enabled"`
}

func toHoursItem(b model.BusinessHours) hoursItem {
	return hoursItem{
		Weekday:   int(b.Weekday),
		DayName:   b.Weekday.String(),
		StartTime: b.Start.String(),
		EndTime:   b.End.String(),
		Enabled:   b.Enabled,
	}
}

func (h *HoursHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	week, err := h.registry.List(r.Context(), orgID)
	if err != nil {
		h.logger.Error("list business hours failed", "organization_id", orgID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	items := make([]hoursItem, 0, len(week))
	for _, b := range week {
		items = append(items, toHoursItem(b))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"businessHours": items})
}

type putHoursRequest struct {
	StartTime string `json:"startTime" validate:"required,clock"`
	EndTime   string `json:"endTime" validate:"required,clock"`
	Enabled   *bool  `json:"enabled"`
}

func (h *HoursHandler) Put(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	weekday, err := strconv.Atoi(chi.URLParam(r, "weekday"))
	if err != nil || weekday < int(time.Sunday) || weekday > int(time.Saturday) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_weekday", "weekday must be 0 (Sunday) to 6 (Saturday)")
		return
	}
	var req putHoursRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	start, _ := model.ParseClock(req.StartTime)
	end, _ := model.ParseClock(req.EndTime)
	b := model.BusinessHours{
		OrganizationID: orgID,
		Weekday:        time.Weekday(weekday),
		Start:          start,
		End:            end,
		Enabled:        req.Enabled == nil || *req.Enabled,
	}
	if err := h.registry.Upsert(r.Context(), b); err != nil {
		if errors.Is(err, hours.ErrInvalidHours) {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_hours", err.Error())
			return
		}
		h.logger.Error("upsert business hours failed", "organization_id", orgID, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	h.logger.Info("business hours updated", "organization_id", orgID, "weekday", weekday)
	httpx.WriteJSON(w, http.StatusOK, toHoursItem(b))
}
