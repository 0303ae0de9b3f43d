package handlers

import (
	"net/http"
	"time"

	"github.com/dteedee/medix/libs/httpx"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/schedule"
)

type ruleRequest struct {
	DayOfWeek   *int   `json:"day_of_week" validate:"required,min=0,max=6"`
	StartTime   string `json:"start_time" validate:"required"`
	EndTime     string `json:"end_time" validate:"required"`
	IsAvailable *bool  `json:"is_available"`
}

func (h *Handler) ListWeeklyRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.schedule.ListWeeklyRules(r.Context(), r.PathValue("doctorID"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	items := make([]ruleItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, ruleOut(rule))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) PutWeeklyRule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.scheduleOwner(w, r)
	if !ok {
		return
	}
	var req ruleRequest
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	start, err := parseTimeOfDay("start_time", req.StartTime)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	end, err := parseTimeOfDay("end_time", req.EndTime)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	available := true
	if req.IsAvailable != nil {
		available = *req.IsAvailable
	}

	rule, err := h.schedule.PutWeeklyRule(r.Context(), doctorID, schedule.RuleInput{
		Weekday:     time.Weekday(*req.DayOfWeek),
		StartMinute: start,
		EndMinute:   end,
		IsAvailable: available,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, ruleOut(rule))
}

func (h *Handler) DeleteWeeklyRule(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.scheduleOwner(w, r)
	if !ok {
		return
	}
	if err := h.schedule.DeleteWeeklyRule(r.Context(), doctorID, r.PathValue("ruleID")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type overrideRequest struct {
	Date         string `json:"date" validate:"required"`
	StartTime    string `json:"start_time" validate:"required"`
	EndTime      string `json:"end_time" validate:"required"`
	OverrideType string `json:"override_type" validate:"required,oneof=AVAILABILITY UNAVAILABILITY availability unavailability"`
	Reason       string `json:"reason" validate:"max=500"`
	IsAvailable  *bool  `json:"is_available"`
}

func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	overrides, err := h.schedule.ListOverrides(r.Context(), r.PathValue("doctorID"), from, to)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	items := make([]overrideItem, 0, len(overrides))
	for _, o := range overrides {
		items = append(items, overrideOut(o))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.scheduleOwner(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	start, err := parseTimeOfDay("start_time", req.StartTime)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	end, err := parseTimeOfDay("end_time", req.EndTime)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	o, err := h.schedule.CreateOverride(r.Context(), doctorID, schedule.OverrideInput{
		Date:        date,
		StartMinute: start,
		EndMinute:   end,
		Kind:        model.OverrideKind(req.OverrideType),
		Reason:      req.Reason,
		IsAvailable: req.IsAvailable,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, overrideOut(o))
}

func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	doctorID, ok := h.scheduleOwner(w, r)
	if !ok {
		return
	}
	if err := h.schedule.DeleteOverride(r.Context(), doctorID, r.PathValue("overrideID")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// scheduleOwner allows the doctor themself and staff to edit a schedule.
func (h *Handler) scheduleOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := h.requireActor(w, r)
	if !ok {
		return "", false
	}
	doctorID := r.PathValue("doctorID")
	if !canManageDoctor(caller, doctorID) {
		forbidden(w, "not allowed to edit this doctor's schedule")
		return "", false
	}
	return doctorID, true
}
