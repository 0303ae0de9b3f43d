// Package handlers exposes the scheduling engine over JSON HTTP.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/dteedee/medix/libs/auth"
	"github.com/dteedee/medix/libs/httpx"
	"github.com/dteedee/medix/services/scheduling-service/internal/availability"
	"github.com/dteedee/medix/services/scheduling-service/internal/booking"
	"github.com/dteedee/medix/services/scheduling-service/internal/lifecycle"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/schedule"
	"github.com/go-playground/validator/v10"
)

const busyRetryAfter = 2 * time.Second

type Deps struct {
	Resolver  *availability.Resolver
	Guard     *booking.Guard
	Lifecycle *lifecycle.Manager
	Schedule  *schedule.Service
	Logger    *slog.Logger

	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

type Handler struct {
	resolver  *availability.Resolver
	guard     *booking.Guard
	lifecycle *lifecycle.Manager
	schedule  *schedule.Service
	logger    *slog.Logger
	validate  *validator.Validate

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

func New(d Deps) *Handler {
	tolerance := d.StripeWebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Handler{
		resolver:               d.Resolver,
		guard:                  d.Guard,
		lifecycle:              d.Lifecycle,
		schedule:               d.Schedule,
		logger:                 d.Logger,
		validate:               newValidator(),
		stripeWebhookSecret:    strings.TrimSpace(d.StripeWebhookSecret),
		stripeWebhookTolerance: tolerance,
	}
}

// Register mounts every route on mux. protect authenticates callers; limit is
// applied to booking writes only. The Stripe webhook authenticates by signature.
func (h *Handler) Register(mux *http.ServeMux, protect, limit httpx.Middleware) {
	p := func(fn http.HandlerFunc, extra ...httpx.Middleware) http.Handler {
		chain := []httpx.Middleware{protect}
		for _, m := range extra {
			if m != nil {
				chain = append(chain, m)
			}
		}
		return httpx.Chain(fn, chain...)
	}

	mux.Handle("GET /api/v1/doctors/{doctorID}/slots", p(h.Slots))
	mux.Handle("POST /api/v1/appointments", p(h.Book, limit))
	mux.Handle("GET /api/v1/appointments/{id}", p(h.GetAppointment))
	mux.Handle("POST /api/v1/appointments/{id}/transitions", p(h.Transition))
	mux.Handle("GET /api/v1/doctors/{doctorID}/appointments", p(h.DoctorAppointments))
	mux.Handle("GET /api/v1/patients/{patientID}/appointments", p(h.PatientAppointments))

	mux.Handle("GET /api/v1/doctors/{doctorID}/weekly-rules", p(h.ListWeeklyRules))
	mux.Handle("POST /api/v1/doctors/{doctorID}/weekly-rules", p(h.PutWeeklyRule))
	mux.Handle("DELETE /api/v1/doctors/{doctorID}/weekly-rules/{ruleID}", p(h.DeleteWeeklyRule))
	mux.Handle("GET /api/v1/doctors/{doctorID}/overrides", p(h.ListOverrides))
	mux.Handle("POST /api/v1/doctors/{doctorID}/overrides", p(h.CreateOverride))
	mux.Handle("DELETE /api/v1/doctors/{doctorID}/overrides/{overrideID}", p(h.DeleteOverride))

	mux.HandleFunc("POST /api/v1/payments/stripe/webhook", h.StripeWebhook)
}

// Unauthorized is the onFail callback for the auth middlewares.
func Unauthorized(w http.ResponseWriter, _ *http.Request, _ error) {
	httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
}

// actor maps the authenticated principal onto a domain actor. An empty role is
// a patient.
func actor(r *http.Request) (model.Actor, bool) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || p.ID == "" {
		return model.Actor{}, false
	}
	role := model.Role(strings.ToLower(p.Role))
	if role == "" {
		role = model.RolePatient
	}
	if !role.Valid() {
		return model.Actor{}, false
	}
	return model.Actor{ID: p.ID, Role: role}, true
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	a, ok := actor(r)
	if !ok {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "unknown caller role")
	}
	return a, ok
}

func forbidden(w http.ResponseWriter, msg string) {
	httpx.WriteError(w, http.StatusForbidden, "forbidden", msg)
}

// canManageDoctor reports whether a may edit or read the private data of doctorID.
func canManageDoctor(a model.Actor, doctorID string) bool {
	switch a.Role {
	case model.RoleStaff, model.RoleSystem:
		return true
	case model.RoleDoctor:
		return a.ID == doctorID
	}
	return false
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, model.ErrValidation):
		httpx.WriteError(w, http.StatusBadRequest, model.CodeOf(err), msg)
	case errors.Is(err, model.ErrSlotTaken):
		httpx.WriteError(w, http.StatusConflict, "slot_taken", "time slot already booked, pick another time")
	case errors.Is(err, model.ErrBusy):
		httpx.WriteRetryable(w, "busy", "scheduling is busy, retry shortly", busyRetryAfter)
	case errors.Is(err, model.ErrInvalidTransition):
		httpx.WriteError(w, http.StatusUnprocessableEntity, "invalid_transition", msg)
	case errors.Is(err, model.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", msg)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteRetryable(w, "timeout", "request timed out", busyRetryAfter)
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// decode reads and validates a JSON body.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		return model.Invalid("body", "%s", err.Error())
	}
	if err := h.validate.Struct(dst); err != nil {
		return validationErr(err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationErr(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return model.Invalid("body", "%s", err.Error())
	}
	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return model.Invalid(fe.Field(), "is required")
	case "oneof":
		return model.Invalid(fe.Field(), "must be one of: %s", fe.Param())
	case "gtfield":
		return model.Invalid(fe.Field(), "must be after %s", fe.Param())
	}
	if fe.Param() != "" {
		return model.Invalid(fe.Field(), "failed %s=%s", fe.Tag(), fe.Param())
	}
	return model.Invalid(fe.Field(), "failed %s", fe.Tag())
}
