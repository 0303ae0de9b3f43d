package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/dteedee/medix/libs/httpx"
	"github.com/dteedee/medix/services/scheduling-service/internal/booking"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
)

const maxDoctorQueryRange = 93 * 24 * time.Hour

type slotsResponse struct {
	DoctorID string       `json:"doctor_id"`
	Date     string       `json:"date"`
	Windows  []windowItem `json:"windows"`
	Slots    []windowItem `json:"slots,omitempty"`
}

// Slots returns the bookable windows of a doctor on one date, and the fixed-length
// starts inside them when duration_minutes is given.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	doctorID := r.PathValue("doctorID")
	q := r.URL.Query()
	date, err := parseDate("date", q.Get("date"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	durationMin, err := parseMinutes("duration_minutes", q.Get("duration_minutes"), 0, 12*60)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	stepMin, err := parseMinutes("step_minutes", q.Get("step_minutes"), durationMin, 12*60)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	windows, err := h.resolver.ResolveSlots(r.Context(), doctorID, date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	resp := slotsResponse{DoctorID: doctorID, Date: date.Format(time.DateOnly), Windows: windowItems(windows)}
	if durationMin > 0 {
		duration := time.Duration(durationMin) * time.Minute
		starts, err := h.resolver.ResolveSlotStarts(r.Context(), doctorID, date, duration, time.Duration(stepMin)*time.Minute)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		resp.Slots = make([]windowItem, 0, len(starts))
		for _, s := range starts {
			resp.Slots = append(resp.Slots, windowItem{StartTime: formatTime(s), EndTime: formatTime(s.Add(duration))})
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type bookRequest struct {
	PatientID       string    `json:"patient_id" validate:"omitempty,max=64"`
	DoctorID        string    `json:"doctor_id" validate:"required,max=64"`
	StartTime       time.Time `json:"start_time" validate:"required"`
	EndTime         time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	PaymentMethod   string    `json:"payment_method" validate:"omitempty,oneof=card cash insurance wallet"`
	Currency        string    `json:"currency" validate:"omitempty,len=3,alpha"`
	ConsultationFee int64     `json:"consultation_fee" validate:"gte=0"`
	PlatformFee     int64     `json:"platform_fee" validate:"gte=0"`
	Discount        int64     `json:"discount" validate:"gte=0"`
}

func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}

	patientID := strings.TrimSpace(req.PatientID)
	if caller.Role == model.RolePatient {
		if patientID != "" && patientID != caller.ID {
			forbidden(w, "patients may only book for themselves")
			return
		}
		patientID = caller.ID
	}

	appt, err := h.guard.TryBook(r.Context(), booking.Request{
		PatientID:       patientID,
		DoctorID:        req.DoctorID,
		Start:           req.StartTime,
		End:             req.EndTime,
		PaymentMethod:   req.PaymentMethod,
		Currency:        req.Currency,
		ConsultationFee: req.ConsultationFee,
		PlatformFee:     req.PlatformFee,
		Discount:        req.Discount,
	}, caller)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appointmentOut(appt))
}

type appointmentDetail struct {
	appointmentItem
	History []historyItem `json:"history"`
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	appt, history, err := h.lifecycle.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if !canSee(caller, appt) {
		// Same answer as a missing id so ids cannot be enumerated.
		httpx.WriteError(w, http.StatusNotFound, "not_found", "appointment not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentDetail{appointmentItem: appointmentOut(appt), History: historyOut(history)})
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=confirmed in_progress completed cancelled no_show"`
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if err := h.decode(r, &req); err != nil {
		h.writeErr(w, r, err)
		return
	}
	to, err := model.ParseStatus(req.Status)
	if err != nil {
		h.writeErr(w, r, model.Invalid("status", "%s", err.Error()))
		return
	}

	id := r.PathValue("id")
	if caller.Role == model.RolePatient || caller.Role == model.RoleDoctor {
		current, _, err := h.lifecycle.Get(r.Context(), id)
		if err != nil {
			h.writeErr(w, r, err)
			return
		}
		if !canSee(caller, current) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "appointment not found")
			return
		}
		if caller.Role == model.RolePatient && to != model.StatusCancelled {
			forbidden(w, "patients may only cancel")
			return
		}
	}

	appt, err := h.lifecycle.Transition(r.Context(), id, to, caller, req.Reason)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appointmentOut(appt))
}

func (h *Handler) DoctorAppointments(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	doctorID := r.PathValue("doctorID")
	if !canManageDoctor(caller, doctorID) {
		forbidden(w, "not allowed to list this doctor's appointments")
		return
	}
	q := r.URL.Query()
	from, err := parseInstant("from", q.Get("from"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	to, err := parseInstant("to", q.Get("to"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if to.Sub(from) > maxDoctorQueryRange {
		h.writeErr(w, r, model.Invalid("to", "range may not exceed 93 days"))
		return
	}
	appts, err := h.lifecycle.GetByDoctor(r.Context(), doctorID, from, to)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": appointmentList(appts)})
}

func (h *Handler) PatientAppointments(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	patientID := r.PathValue("patientID")
	if caller.Role == model.RolePatient && caller.ID != patientID {
		forbidden(w, "patients may only list their own appointments")
		return
	}
	if caller.Role == model.RoleDoctor {
		forbidden(w, "doctors list appointments by doctor")
		return
	}
	appts, err := h.lifecycle.GetByPatient(r.Context(), patientID)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": appointmentList(appts)})
}

func canSee(a model.Actor, appt model.Appointment) bool {
	switch a.Role {
	case model.RolePatient:
		return appt.PatientID == a.ID
	case model.RoleDoctor:
		return appt.DoctorID == a.ID
	}
	return true
}
