package outbox

import (
	"encoding/json"
	"time"

	"github.com/dteedee/medix/services/scheduling-service/internal/model"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AggregateAppointment = "appointment"

	EventAppointmentBooked        = "scheduling.appointment.booked.v1"
	EventAppointmentStatusChanged = "scheduling.appointment.status_changed.v1"
	EventAppointmentPayment       = "scheduling.appointment.payment_updated.v1"
)

type appointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	DoctorID      string `json:"doctor_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	OldStatus     string `json:"old_status,omitempty"`
	PaymentStatus string `json:"payment_status"`
	RefundStatus  string `json:"refund_status"`
	RefundAmount  int64  `json:"refund_amount"`
	Currency      string `json:"currency"`
	ChangedBy     string `json:"changed_by,omitempty"`
	Reason        string `json:"reason,omitempty"`
	OccurredAt    string `json:"occurred_at"`
	PaymentRef    string `json:"payment_reference,omitempty"`
}

func payloadFor(a model.Appointment, old model.Status, actor model.Actor, reason string, at time.Time) appointmentPayload {
	p := appointmentPayload{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		StartTime:     a.StartTime.UTC().Format(time.RFC3339),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		Status:        a.Status.String(),
		PaymentStatus: string(a.PaymentStatus),
		RefundStatus:  string(a.RefundStatus),
		RefundAmount:  a.RefundAmount,
		Currency:      a.Currency,
		ChangedBy:     actor.ID,
		Reason:        reason,
		OccurredAt:    at.UTC().Format(time.RFC3339),
	}
	if old.Valid() {
		p.OldStatus = old.String()
	}
	return p
}

func newEvent(eventType, aggregateID string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       b,
	}, nil
}

func AppointmentBooked(a model.Appointment, actor model.Actor, at time.Time) (Event, error) {
	return newEvent(EventAppointmentBooked, a.ID, payloadFor(a, 0, actor, "", at))
}

// StatusChanged is consumed by the notification collaborator.
func StatusChanged(a model.Appointment, old model.Status, actor model.Actor, reason string, at time.Time) (Event, error) {
	return newEvent(EventAppointmentStatusChanged, a.ID, payloadFor(a, old, actor, reason, at))
}

func PaymentUpdated(a model.Appointment, at time.Time) (Event, error) {
	p := payloadFor(a, 0, model.SystemActor, "", at)
	p.PaymentRef = a.PaymentReference
	return newEvent(EventAppointmentPayment, a.ID, p)
}
