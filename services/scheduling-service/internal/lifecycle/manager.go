// Package lifecycle owns the appointment state machine, its status history and
// the refund and payment fields that move with it.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/dteedee/medix/libs/clock"
	otelx "github.com/dteedee/medix/libs/otel"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/outbox"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxReasonLength = 500

// Invalidator drops cached availability for a doctor. Implemented by
// availability.Resolver.
type Invalidator interface {
	Invalidate(ctx context.Context, doctorID string)
}

type Manager struct {
	store  storage.Store
	cache  Invalidator
	clock  clock.Clock
	logger *slog.Logger
	policy RefundPolicy
	tracer trace.Tracer
}

func NewManager(store storage.Store, cache Invalidator, clk clock.Clock, logger *slog.Logger, policy RefundPolicy) *Manager {
	return &Manager{
		store:  store,
		cache:  cache,
		clock:  clk,
		logger: logger,
		policy: policy,
		tracer: otelx.Tracer("scheduling-service/lifecycle"),
	}
}

// Transition moves appointment id to status to. The status update, its history
// row, any refund bookkeeping and the outbox event commit together.
func (m *Manager) Transition(ctx context.Context, id string, to model.Status, actor model.Actor, reason string) (model.Appointment, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Transition", trace.WithAttributes(
		attribute.String("appointment_id", id),
		attribute.String("to", to.String()),
	))
	defer span.End()

	reason = strings.TrimSpace(reason)
	if err := validateTransition(id, to, actor, reason); err != nil {
		otelx.RecordError(span, err)
		return model.Appointment{}, err
	}

	now := m.clock.Now()
	var (
		updated model.Appointment
		from    model.Status
	)
	err := m.store.InTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !a.Status.CanTransitionTo(to) {
			return &model.InvalidTransitionError{From: a.Status, To: to}
		}

		from = a.Status
		a.Status = to
		a.UpdatedAt = now
		if to == model.StatusCancelled {
			cancelledAt := now
			a.CancelledAt = &cancelledAt
			a.CancelReason = reason
			applyRefund(&a, m.policy.Compute(a, actor.Role, now))
		}
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		if err := tx.InsertStatusHistory(ctx, model.StatusHistory{
			ID:            uuid.NewString(),
			AppointmentID: a.ID,
			OldStatus:     from,
			NewStatus:     to,
			ChangedBy:     actor.ID,
			ChangedByRole: actor.Role,
			Reason:        reason,
			ChangedAt:     now,
		}); err != nil {
			return err
		}
		evt, err := outbox.StatusChanged(a, from, actor, reason, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return err
		}
		updated = a
		return nil
	})
	if err != nil {
		err = storeErr(err)
		otelx.RecordError(span, err)
		return model.Appointment{}, err
	}

	if to.Terminal() && m.cache != nil {
		m.cache.Invalidate(ctx, updated.DoctorID)
	}
	m.logger.Info("appointment status changed",
		"appointment_id", updated.ID,
		"from", from.String(),
		"to", to.String(),
		"changed_by", actor.ID,
		"refund_amount", updated.RefundAmount,
		"refund_status", string(updated.RefundStatus),
	)
	return updated, nil
}

// MarkPaid records the payment collaborator's confirmation. Repeated calls are
// no-ops. A payment that lands after cancellation is queued for a full refund.
func (m *Manager) MarkPaid(ctx context.Context, id, paymentRef string) (model.Appointment, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return model.Appointment{}, model.Invalid("payment_reference", "is required")
	}
	return m.updatePayment(ctx, id, "payment confirmed", func(a *model.Appointment) bool {
		if a.PaymentStatus != model.PaymentUnpaid {
			return false
		}
		a.PaymentStatus = model.PaymentPaid
		a.PaymentReference = paymentRef
		if a.Status == model.StatusCancelled && a.TotalAmount > 0 {
			applyRefund(a, a.TotalAmount)
		}
		return true
	})
}

// SettleRefund applies the payment collaborator's final word on a pending refund.
// A failed refund puts the payment back to Paid so staff can retry by hand.
func (m *Manager) SettleRefund(ctx context.Context, id string, succeeded bool, refundRef string) (model.Appointment, error) {
	refundRef = strings.TrimSpace(refundRef)
	return m.updatePayment(ctx, id, "refund settled", func(a *model.Appointment) bool {
		if a.RefundStatus != model.RefundPending {
			return false
		}
		if refundRef != "" {
			a.RefundReference = refundRef
		}
		if succeeded {
			a.RefundStatus = model.RefundCompleted
			return true
		}
		a.RefundStatus = model.RefundFailed
		a.PaymentStatus = model.PaymentPaid
		return true
	})
}

// RecordRefundIssued stores the collaborator's reference for a refund that has been
// requested but not yet settled.
func (m *Manager) RecordRefundIssued(ctx context.Context, id, refundRef string) (model.Appointment, error) {
	refundRef = strings.TrimSpace(refundRef)
	if refundRef == "" {
		return model.Appointment{}, model.Invalid("refund_reference", "is required")
	}
	return m.updatePayment(ctx, id, "refund issued", func(a *model.Appointment) bool {
		if a.RefundStatus != model.RefundPending || a.RefundReference != "" {
			return false
		}
		a.RefundReference = refundRef
		return true
	})
}

// updatePayment changes payment and refund fields only. Status never moves here,
// so no history row is written.
func (m *Manager) updatePayment(ctx context.Context, id, what string, apply func(a *model.Appointment) bool) (model.Appointment, error) {
	if strings.TrimSpace(id) == "" {
		return model.Appointment{}, model.Invalid("appointment_id", "is required")
	}
	now := m.clock.Now()
	var (
		out     model.Appointment
		changed bool
	)
	err := m.store.InTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		a, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		out = a
		if changed = apply(&a); !changed {
			return nil
		}
		a.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		evt, err := outbox.PaymentUpdated(a, now)
		if err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, evt); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return model.Appointment{}, storeErr(err)
	}
	if changed {
		m.logger.Info(what,
			"appointment_id", out.ID,
			"payment_status", string(out.PaymentStatus),
			"refund_status", string(out.RefundStatus),
			"refund_amount", out.RefundAmount,
		)
	}
	return out, nil
}

// Get returns the appointment with its status history, oldest first.
func (m *Manager) Get(ctx context.Context, id string) (model.Appointment, []model.StatusHistory, error) {
	if strings.TrimSpace(id) == "" {
		return model.Appointment{}, nil, model.Invalid("appointment_id", "is required")
	}
	a, err := m.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, nil, err
	}
	history, err := m.store.ListStatusHistory(ctx, id)
	if err != nil {
		return model.Appointment{}, nil, err
	}
	return a, history, nil
}

// GetByDoctor lists the doctor's appointments intersecting [from, to), any status.
func (m *Manager) GetByDoctor(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, model.Invalid("doctor_id", "is required")
	}
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return nil, model.Invalid("to", "must be after from")
	}
	return m.store.ListAppointmentsByDoctor(ctx, doctorID, from, to)
}

// GetByPatient lists the patient's appointments, most recent start first.
func (m *Manager) GetByPatient(ctx context.Context, patientID string) ([]model.Appointment, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, model.Invalid("patient_id", "is required")
	}
	return m.store.ListAppointmentsByPatient(ctx, patientID)
}

func validateTransition(id string, to model.Status, actor model.Actor, reason string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return model.Invalid("appointment_id", "is required")
	case !to.Valid():
		return model.Invalid("status", "unknown status")
	case strings.TrimSpace(actor.ID) == "":
		return model.Invalid("actor", "is required")
	case !actor.Role.Valid():
		return model.Invalid("actor_role", "unknown role %q", actor.Role)
	case len(reason) > maxReasonLength:
		return model.Invalid("reason", "must be at most %d characters", maxReasonLength)
	}
	return nil
}

func storeErr(err error) error {
	if errors.Is(err, storage.ErrRetryable) {
		return &model.ConflictError{Reason: model.Busy, Err: err}
	}
	return err
}
