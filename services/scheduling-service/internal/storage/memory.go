package storage

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/outbox"
)

// Memory is an in-process Store. Transactions run one at a time against a copy of
// the state that replaces the original only on success.
type Memory struct {
	mu    sync.Mutex
	state memState

	failures []error
}

type memState struct {
	rules     map[string]model.WeeklyRule
	overrides map[string]model.ScheduleOverride
	appts     map[string]model.Appointment
	history   []model.StatusHistory
	events    []outbox.Event
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		rules:     map[string]model.WeeklyRule{},
		overrides: map[string]model.ScheduleOverride{},
		appts:     map[string]model.Appointment{},
	}}
}

func (s memState) clone() memState {
	return memState{
		rules:     maps.Clone(s.rules),
		overrides: maps.Clone(s.overrides),
		appts:     maps.Clone(s.appts),
		history:   append([]model.StatusHistory(nil), s.history...),
		events:    append([]outbox.Event(nil), s.events...),
	}
}

// FailNextTx makes the next InTx calls fail with errs, in order, before running fn.
func (m *Memory) FailNextTx(errs ...error) {
	m.mu.Lock()
	m.failures = append(m.failures, errs...)
	m.mu.Unlock()
}

// Events returns every outbox event committed so far.
func (m *Memory) Events() []outbox.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbox.Event(nil), m.state.events...)
}

func (m *Memory) InTx(ctx context.Context, _ TxOptions, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	work := m.state.clone()
	if err := fn(ctx, &memTx{s: &work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) read() *memTx {
	return &memTx{s: &m.state}
}

func (m *Memory) ListWeeklyRules(ctx context.Context, doctorID string, weekday time.Weekday) ([]model.WeeklyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ListWeeklyRules(ctx, doctorID, weekday)
}

func (m *Memory) ListOverrides(ctx context.Context, doctorID string, date time.Time) ([]model.ScheduleOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ListOverrides(ctx, doctorID, date)
}

func (m *Memory) ListActiveAppointments(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().ListActiveAppointments(ctx, doctorID, from, to)
}

func (m *Memory) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().GetAppointmentForUpdate(ctx, id)
}

func (m *Memory) ListAppointmentsByDoctor(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.state.appts {
		if a.DoctorID == doctorID && a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (m *Memory) ListAppointmentsByPatient(_ context.Context, patientID string) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.state.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *Memory) ListStatusHistory(_ context.Context, appointmentID string) ([]model.StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StatusHistory
	for _, h := range m.state.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *Memory) ListAllWeeklyRules(_ context.Context, doctorID string) ([]model.WeeklyRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WeeklyRule
	for _, r := range m.state.rules {
		if r.DoctorID == doctorID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].StartMinute < out[j].StartMinute
	})
	return out, nil
}

func (m *Memory) ListOverridesBetween(_ context.Context, doctorID string, from, to time.Time) ([]model.ScheduleOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read().overridesBetween(doctorID, from, to), nil
}

func (m *Memory) ExpireOverrides(_ context.Context, today, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, o := range m.state.overrides {
		if o.Date.Before(today) && o.IsAvailable {
			o.IsAvailable = false
			o.UpdatedAt = now
			m.state.overrides[id] = o
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListRefundsToIssue(_ context.Context, limit int) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.state.appts {
		if a.RefundStatus == model.RefundPending && a.RefundAmount > 0 && a.PaymentReference != "" && a.RefundReference == "" {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memTx struct {
	s *memState
}

func (t *memTx) ListWeeklyRules(_ context.Context, doctorID string, weekday time.Weekday) ([]model.WeeklyRule, error) {
	var out []model.WeeklyRule
	for _, r := range t.s.rules {
		if r.DoctorID == doctorID && r.Weekday == weekday {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (t *memTx) ListOverrides(_ context.Context, doctorID string, date time.Time) ([]model.ScheduleOverride, error) {
	return t.overridesBetween(doctorID, date, date.AddDate(0, 0, 1)), nil
}

func (t *memTx) overridesBetween(doctorID string, from, to time.Time) []model.ScheduleOverride {
	var out []model.ScheduleOverride
	for _, o := range t.s.overrides {
		if o.DoctorID == doctorID && !o.Date.Before(from) && o.Date.Before(to) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].StartMinute < out[j].StartMinute
	})
	return out
}

func (t *memTx) ListActiveAppointments(_ context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range t.s.appts {
		if a.DoctorID == doctorID && !a.Status.Terminal() && a.StartTime.Before(to) && a.EndTime.After(from) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

// LockDoctor is a no-op: Memory already runs one transaction at a time.
func (t *memTx) LockDoctor(context.Context, string) error { return nil }

func (t *memTx) InsertAppointment(_ context.Context, a model.Appointment) error {
	if !a.Status.Terminal() {
		for _, existing := range t.s.appts {
			if existing.DoctorID == a.DoctorID && !existing.Status.Terminal() &&
				existing.StartTime.Before(a.EndTime) && existing.EndTime.After(a.StartTime) {
				return ErrOverlap
			}
		}
	}
	t.s.appts[a.ID] = a
	return nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	a, ok := t.s.appts[id]
	if !ok {
		return model.Appointment{}, notFound("appointment", id)
	}
	return a, nil
}

func (t *memTx) UpdateAppointment(_ context.Context, a model.Appointment) error {
	existing, ok := t.s.appts[a.ID]
	if !ok {
		return notFound("appointment", a.ID)
	}
	// Only the mutable columns change, as in the SQL store.
	existing.Status = a.Status
	existing.PaymentStatus = a.PaymentStatus
	existing.PaymentReference = a.PaymentReference
	existing.RefundAmount = a.RefundAmount
	existing.RefundStatus = a.RefundStatus
	existing.RefundReference = a.RefundReference
	existing.CancelReason = a.CancelReason
	existing.CancelledAt = a.CancelledAt
	existing.UpdatedAt = a.UpdatedAt
	t.s.appts[a.ID] = existing
	return nil
}

func (t *memTx) InsertStatusHistory(_ context.Context, h model.StatusHistory) error {
	t.s.history = append(t.s.history, h)
	return nil
}

func (t *memTx) InsertEvent(_ context.Context, evt outbox.Event) error {
	t.s.events = append(t.s.events, evt)
	return nil
}

func (t *memTx) InsertWeeklyRule(_ context.Context, r model.WeeklyRule) error {
	t.s.rules[r.ID] = r
	return nil
}

func (t *memTx) DeleteWeeklyRule(_ context.Context, doctorID, id string) error {
	r, ok := t.s.rules[id]
	if !ok || r.DoctorID != doctorID {
		return notFound("weekly rule", id)
	}
	delete(t.s.rules, id)
	return nil
}

func (t *memTx) InsertOverride(_ context.Context, o model.ScheduleOverride) error {
	t.s.overrides[o.ID] = o
	return nil
}

func (t *memTx) DeleteOverride(_ context.Context, doctorID, id string) error {
	o, ok := t.s.overrides[id]
	if !ok || o.DoctorID != doctorID {
		return notFound("override", id)
	}
	delete(t.s.overrides, id)
	return nil
}

func sortByStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool { return appts[i].StartTime.Before(appts[j].StartTime) })
}
