package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/dteedee/medix/services/scheduling-service/internal/interval"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
)

type windowItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func windowItems(ws []interval.Range) []windowItem {
	out := make([]windowItem, 0, len(ws))
	for _, w := range ws {
		out = append(out, windowItem{StartTime: formatTime(w.Start), EndTime: formatTime(w.End)})
	}
	return out
}

type appointmentItem struct {
	AppointmentID    string  `json:"appointment_id"`
	PatientID        string  `json:"patient_id"`
	DoctorID         string  `json:"doctor_id"`
	StartTime        string  `json:"start_time"`
	EndTime          string  `json:"end_time"`
	DurationMinutes  int     `json:"duration_minutes"`
	Status           string  `json:"status"`
	PaymentStatus    string  `json:"payment_status"`
	PaymentMethod    string  `json:"payment_method,omitempty"`
	PaymentReference string  `json:"payment_reference,omitempty"`
	Currency         string  `json:"currency"`
	ConsultationFee  int64   `json:"consultation_fee"`
	PlatformFee      int64   `json:"platform_fee"`
	Discount         int64   `json:"discount"`
	TotalAmount      int64   `json:"total_amount"`
	RefundAmount     int64   `json:"refund_amount"`
	RefundStatus     string  `json:"refund_status"`
	CancelReason     string  `json:"cancel_reason,omitempty"`
	CancelledAt      *string `json:"cancelled_at,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

func appointmentOut(a model.Appointment) appointmentItem {
	item := appointmentItem{
		AppointmentID:    a.ID,
		PatientID:        a.PatientID,
		DoctorID:         a.DoctorID,
		StartTime:        formatTime(a.StartTime),
		EndTime:          formatTime(a.EndTime),
		DurationMinutes:  int(a.Duration() / time.Minute),
		Status:           a.Status.String(),
		PaymentStatus:    string(a.PaymentStatus),
		PaymentMethod:    a.PaymentMethod,
		PaymentReference: a.PaymentReference,
		Currency:         a.Currency,
		ConsultationFee:  a.ConsultationFee,
		PlatformFee:      a.PlatformFee,
		Discount:         a.Discount,
		TotalAmount:      a.TotalAmount,
		RefundAmount:     a.RefundAmount,
		RefundStatus:     string(a.RefundStatus),
		CancelReason:     a.CancelReason,
		CreatedAt:        formatTime(a.CreatedAt),
		UpdatedAt:        formatTime(a.UpdatedAt),
	}
	if a.CancelledAt != nil {
		s := formatTime(*a.CancelledAt)
		item.CancelledAt = &s
	}
	return item
}

func appointmentList(as []model.Appointment) []appointmentItem {
	out := make([]appointmentItem, 0, len(as))
	for _, a := range as {
		out = append(out, appointmentOut(a))
	}
	return out
}

type historyItem struct {
	OldStatus     string `json:"old_status,omitempty"`
	NewStatus     string `json:"new_status"`
	ChangedBy     string `json:"changed_by"`
	ChangedByRole string `json:"changed_by_role"`
	Reason        string `json:"reason,omitempty"`
	ChangedAt     string `json:"changed_at"`
}

func historyOut(hs []model.StatusHistory) []historyItem {
	out := make([]historyItem, 0, len(hs))
	for _, h := range hs {
		item := historyItem{
			NewStatus:     h.NewStatus.String(),
			ChangedBy:     h.ChangedBy,
			ChangedByRole: string(h.ChangedByRole),
			Reason:        h.Reason,
			ChangedAt:     formatTime(h.ChangedAt),
		}
		if h.OldStatus.Valid() {
			item.OldStatus = h.OldStatus.String()
		}
		out = append(out, item)
	}
	return out
}

type ruleItem struct {
	RuleID      string `json:"rule_id"`
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable bool   `json:"is_available"`
}

func ruleOut(r model.WeeklyRule) ruleItem {
	return ruleItem{
		RuleID:      r.ID,
		DayOfWeek:   int(r.Weekday),
		StartTime:   model.FormatMinute(r.StartMinute),
		EndTime:     model.FormatMinute(r.EndMinute),
		IsAvailable: r.IsAvailable,
	}
}

type overrideItem struct {
	OverrideID   string `json:"override_id"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
	OverrideType string `json:"override_type"`
	IsAvailable  bool   `json:"is_available"`
	Reason       string `json:"reason,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}

func overrideOut(o model.ScheduleOverride) overrideItem {
	return overrideItem{
		OverrideID:   o.ID,
		Date:         o.Date.Format(time.DateOnly),
		StartTime:    model.FormatMinute(o.StartMinute),
		EndTime:      model.FormatMinute(o.EndMinute),
		OverrideType: string(o.Kind),
		IsAvailable:  o.IsAvailable,
		Reason:       o.Reason,
		UpdatedAt:    formatTime(o.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, model.Invalid(field, "is required (YYYY-MM-DD)")
	}
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, model.Invalid(field, "must be YYYY-MM-DD")
	}
	return d, nil
}

// parseInstant accepts RFC 3339 or a bare date (midnight UTC).
func parseInstant(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return parseDate(field, raw)
}

func parseMinutes(field, raw string, fallback, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > max {
		return 0, model.Invalid(field, "must be an integer in [1, %d]", max)
	}
	return n, nil
}

func parseTimeOfDay(field, raw string) (int, error) {
	m, err := model.ParseMinute(strings.TrimSpace(raw))
	if err != nil {
		return 0, model.Invalid(field, "must be HH:MM")
	}
	return m, nil
}
