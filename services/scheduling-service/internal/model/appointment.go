package model

import "time"

type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPaid              PaymentStatus = "paid"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

// Appointment amounts are minor currency units (cents).
type Appointment struct {
	ID               string
	PatientID        string
	DoctorID         string
	StartTime        time.Time
	EndTime          time.Time
	Status           Status
	PaymentStatus    PaymentStatus
	PaymentMethod    string
	PaymentReference string
	Currency         string
	ConsultationFee  int64
	PlatformFee      int64
	Discount         int64
	TotalAmount      int64
	RefundAmount     int64
	RefundStatus     RefundStatus
	RefundReference  string
	CancelReason     string
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (a Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// TotalFor returns consultation + platform - discount.
func TotalFor(consultation, platform, discount int64) int64 {
	return consultation + platform - discount
}

// StatusHistory is one append-only row per status change. OldStatus is zero for the
// initial Scheduled row.
type StatusHistory struct {
	ID            string
	AppointmentID string
	OldStatus     Status
	NewStatus     Status
	ChangedBy     string
	ChangedByRole Role
	Reason        string
	ChangedAt     time.Time
}
