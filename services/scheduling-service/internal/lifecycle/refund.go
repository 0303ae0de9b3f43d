package lifecycle

import (
	"math"
	"time"

	"github.com/dteedee/medix/services/scheduling-service/internal/model"
)

// RefundPolicy decides how much of a paid appointment is returned on cancellation.
// Fractions are in [0, 1].
type RefundPolicy struct {
	// PatientFraction applies when the patient cancels at least MinLeadTime before start.
	PatientFraction float64
	// PatientLateFraction applies when the patient cancels inside MinLeadTime.
	PatientLateFraction float64
	// StaffFraction applies to doctor, staff and system cancellations.
	StaffFraction float64
	MinLeadTime   time.Duration
}

func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{
		PatientFraction:     0.8,
		PatientLateFraction: 0,
		StaffFraction:       1,
		MinLeadTime:         24 * time.Hour,
	}
}

func (p RefundPolicy) Fraction(role model.Role, start, now time.Time) float64 {
	if role != model.RolePatient {
		return clampFraction(p.StaffFraction)
	}
	if start.Sub(now) >= p.MinLeadTime {
		return clampFraction(p.PatientFraction)
	}
	return clampFraction(p.PatientLateFraction)
}

// Compute returns the refund in minor units. Unpaid appointments refund nothing.
func (p RefundPolicy) Compute(a model.Appointment, role model.Role, now time.Time) int64 {
	if a.PaymentStatus != model.PaymentPaid || a.TotalAmount <= 0 {
		return 0
	}
	amount := int64(math.Round(float64(a.TotalAmount) * p.Fraction(role, a.StartTime, now)))
	return min(max(amount, 0), a.TotalAmount)
}

func clampFraction(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return min(max(f, 0), 1)
}

// applyRefund records the refund outcome of a cancellation on a.
func applyRefund(a *model.Appointment, amount int64) {
	a.RefundAmount = amount
	if amount == 0 {
		a.RefundStatus = model.RefundCompleted
		return
	}
	a.RefundStatus = model.RefundPending
	if amount == a.TotalAmount {
		a.PaymentStatus = model.PaymentRefunded
	} else {
		a.PaymentStatus = model.PaymentPartiallyRefunded
	}
}
