package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dteedee/medix/libs/db"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/outbox"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// sweepLockKey guards the override expiry sweep across instances.
const sweepLockKey int64 = 7301001

type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool, outbox: outbox.NewRepository(pool)}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound)
}

// IsRetryable matches serialization_failure, deadlock_detected and lock_not_available.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRetryable) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return true
	}
	return false
}

// isUUID guards UUID columns: a malformed id cannot match a row.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// classify maps driver errors onto the storage sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case IsConflict(err):
		return fmt.Errorf("%w: %w", ErrOverlap, err)
	case IsRetryable(err) && !errors.Is(err, ErrRetryable):
		return fmt.Errorf("%w: %w", ErrRetryable, err)
	}
	return err
}

// InTx runs fn at READ COMMITTED. Each statement takes a fresh snapshot, so
// a read that follows LockDoctor sees the rows the previous lock holder
// committed. SERIALIZABLE would pin the snapshot at the first statement,
// before the lock wait, and hide them.
func (p *Postgres) InTx(ctx context.Context, opts TxOptions, fn func(ctx context.Context, tx Tx) error) error {
	err := p.pool.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if opts.LockTimeout > 0 {
			ms := fmt.Sprintf("%dms", opts.LockTimeout.Milliseconds())
			if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
				return err
			}
		}
		return fn(ctx, &pgTx{tx: tx, outbox: p.outbox})
	})
	return classify(err)
}

func (p *Postgres) ListWeeklyRules(ctx context.Context, doctorID string, weekday time.Weekday) ([]model.WeeklyRule, error) {
	return listWeeklyRules(ctx, p.pool, doctorID, &weekday)
}

func (p *Postgres) ListOverrides(ctx context.Context, doctorID string, date time.Time) ([]model.ScheduleOverride, error) {
	return listOverrides(ctx, p.pool, doctorID, date, date.AddDate(0, 0, 1))
}

func (p *Postgres) ListActiveAppointments(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return listActiveAppointments(ctx, p.pool, doctorID, from, to)
}

func (p *Postgres) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, p.pool, id, false)
}

func (p *Postgres) ListAppointmentsByDoctor(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return queryAppointments(ctx, p.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time ASC
	`, doctorID, from, to)
}

func (p *Postgres) ListAppointmentsByPatient(ctx context.Context, patientID string) ([]model.Appointment, error) {
	return queryAppointments(ctx, p.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
	`, patientID)
}

func (p *Postgres) ListStatusHistory(ctx context.Context, appointmentID string) ([]model.StatusHistory, error) {
	if !isUUID(appointmentID) {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id::text, appointment_id::text, COALESCE(old_status, ''), new_status, changed_by, changed_by_role, reason, changed_at
		FROM appointment_status_history
		WHERE appointment_id = $1
		ORDER BY changed_at ASC, id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StatusHistory
	for rows.Next() {
		var h model.StatusHistory
		var oldStatus, newStatus, role string
		if err := rows.Scan(&h.ID, &h.AppointmentID, &oldStatus, &newStatus, &h.ChangedBy, &role, &h.Reason, &h.ChangedAt); err != nil {
			return nil, err
		}
		if oldStatus != "" {
			if h.OldStatus, err = model.ParseStatus(oldStatus); err != nil {
				return nil, err
			}
		}
		if h.NewStatus, err = model.ParseStatus(newStatus); err != nil {
			return nil, err
		}
		h.ChangedByRole = model.Role(role)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *Postgres) ListAllWeeklyRules(ctx context.Context, doctorID string) ([]model.WeeklyRule, error) {
	return listWeeklyRules(ctx, p.pool, doctorID, nil)
}

func (p *Postgres) ListOverridesBetween(ctx context.Context, doctorID string, from, to time.Time) ([]model.ScheduleOverride, error) {
	return listOverrides(ctx, p.pool, doctorID, from, to)
}

func (p *Postgres) ExpireOverrides(ctx context.Context, today, now time.Time) (int64, error) {
	var n int64
	err := p.pool.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var locked bool
		if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock($1)`, sweepLockKey).Scan(&locked); err != nil {
			return err
		}
		if !locked {
			return ErrLockHeld
		}
		tag, err := tx.Exec(ctx, `
			UPDATE schedule_overrides
			SET is_available = false,
				updated_at = $2
			WHERE override_date < $1 AND is_available
		`, today, now)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

func (p *Postgres) ListRefundsToIssue(ctx context.Context, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	return queryAppointments(ctx, p.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE refund_status = $1
			AND refund_amount > 0
			AND payment_reference <> ''
			AND refund_reference = ''
		ORDER BY updated_at ASC
		LIMIT $2
	`, string(model.RefundPending), limit)
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) ListWeeklyRules(ctx context.Context, doctorID string, weekday time.Weekday) ([]model.WeeklyRule, error) {
	return listWeeklyRules(ctx, t.tx, doctorID, &weekday)
}

func (t *pgTx) ListOverrides(ctx context.Context, doctorID string, date time.Time) ([]model.ScheduleOverride, error) {
	return listOverrides(ctx, t.tx, doctorID, date, date.AddDate(0, 0, 1))
}

func (t *pgTx) ListActiveAppointments(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	return listActiveAppointments(ctx, t.tx, doctorID, from, to)
}

func (t *pgTx) LockDoctor(ctx context.Context, doctorID string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, "doctor:"+doctorID)
	return err
}

func (t *pgTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, patient_id, doctor_id, start_time, end_time, status, payment_status, payment_method,
			 payment_reference, currency, consultation_fee, platform_fee, discount, total_amount,
			 refund_amount, refund_status, refund_reference, cancel_reason, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, a.ID, a.PatientID, a.DoctorID, a.StartTime, a.EndTime, a.Status.String(), string(a.PaymentStatus), a.PaymentMethod,
		a.PaymentReference, a.Currency, a.ConsultationFee, a.PlatformFee, a.Discount, a.TotalAmount,
		a.RefundAmount, string(a.RefundStatus), a.RefundReference, a.CancelReason, a.CancelledAt, a.CreatedAt, a.UpdatedAt)
	return classify(err)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			payment_status = $3,
			payment_reference = $4,
			refund_amount = $5,
			refund_status = $6,
			refund_reference = $7,
			cancel_reason = $8,
			cancelled_at = $9,
			updated_at = $10
		WHERE id = $1
	`, a.ID, a.Status.String(), string(a.PaymentStatus), a.PaymentReference, a.RefundAmount, string(a.RefundStatus),
		a.RefundReference, a.CancelReason, a.CancelledAt, a.UpdatedAt)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("appointment", a.ID)
	}
	return nil
}

func (t *pgTx) InsertStatusHistory(ctx context.Context, h model.StatusHistory) error {
	var oldStatus *string
	if h.OldStatus.Valid() {
		s := h.OldStatus.String()
		oldStatus = &s
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_status_history
			(id, appointment_id, old_status, new_status, changed_by, changed_by_role, reason, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, h.ID, h.AppointmentID, oldStatus, h.NewStatus.String(), h.ChangedBy, string(h.ChangedByRole), h.Reason, h.ChangedAt)
	return err
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func (t *pgTx) InsertWeeklyRule(ctx context.Context, r model.WeeklyRule) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO weekly_availability_rules (id, doctor_id, weekday, start_minute, end_minute, is_available, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.DoctorID, int(r.Weekday), r.StartMinute, r.EndMinute, r.IsAvailable, r.CreatedAt)
	return err
}

func (t *pgTx) DeleteWeeklyRule(ctx context.Context, doctorID, id string) error {
	if !isUUID(id) {
		return notFound("weekly rule", id)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM weekly_availability_rules WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("weekly rule", id)
	}
	return nil
}

func (t *pgTx) InsertOverride(ctx context.Context, o model.ScheduleOverride) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO schedule_overrides
			(id, doctor_id, override_date, start_minute, end_minute, is_available, kind, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.DoctorID, o.Date, o.StartMinute, o.EndMinute, o.IsAvailable, string(o.Kind), o.Reason, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *pgTx) DeleteOverride(ctx context.Context, doctorID, id string) error {
	if !isUUID(id) {
		return notFound("override", id)
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM schedule_overrides WHERE id = $1 AND doctor_id = $2`, id, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound("override", id)
	}
	return nil
}

const appointmentColumns = `id::text, patient_id, doctor_id, start_time, end_time, status, payment_status, payment_method,
	payment_reference, currency, consultation_fee, platform_fee, discount, total_amount,
	refund_amount, refund_status, refund_reference, cancel_reason, cancelled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var status, paymentStatus, refundStatus string
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.StartTime,
		&a.EndTime,
		&status,
		&paymentStatus,
		&a.PaymentMethod,
		&a.PaymentReference,
		&a.Currency,
		&a.ConsultationFee,
		&a.PlatformFee,
		&a.Discount,
		&a.TotalAmount,
		&a.RefundAmount,
		&refundStatus,
		&a.RefundReference,
		&a.CancelReason,
		&a.CancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	if a.Status, err = model.ParseStatus(status); err != nil {
		return model.Appointment{}, err
	}
	a.PaymentStatus = model.PaymentStatus(paymentStatus)
	a.RefundStatus = model.RefundStatus(refundStatus)
	return a, nil
}

func getAppointment(ctx context.Context, q querier, id string, forUpdate bool) (model.Appointment, error) {
	if !isUUID(id) {
		return model.Appointment{}, notFound("appointment", id)
	}
	sql := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	a, err := scanAppointment(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, notFound("appointment", id)
	}
	if err != nil {
		return model.Appointment{}, classify(err)
	}
	return a, nil
}

func queryAppointments(ctx context.Context, q querier, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, classify(rows.Err())
}

func listActiveAppointments(ctx context.Context, q querier, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	statuses := make([]string, 0, 3)
	for _, s := range model.NonTerminalStatuses() {
		statuses = append(statuses, s.String())
	}
	sql := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE doctor_id = $1
			AND status = ANY($4)
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC`
	return queryAppointments(ctx, q, sql, doctorID, from, to, statuses)
}

func listWeeklyRules(ctx context.Context, q querier, doctorID string, weekday *time.Weekday) ([]model.WeeklyRule, error) {
	sql := `
		SELECT id::text, doctor_id, weekday, start_minute, end_minute, is_available, created_at
		FROM weekly_availability_rules
		WHERE doctor_id = $1`
	args := []any{doctorID}
	if weekday != nil {
		sql += ` AND weekday = $2`
		args = append(args, int(*weekday))
	}
	sql += ` ORDER BY weekday, start_minute`

	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.WeeklyRule
	for rows.Next() {
		var r model.WeeklyRule
		var wd int16
		if err := rows.Scan(&r.ID, &r.DoctorID, &wd, &r.StartMinute, &r.EndMinute, &r.IsAvailable, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Weekday = time.Weekday(wd)
		out = append(out, r)
	}
	return out, classify(rows.Err())
}

func listOverrides(ctx context.Context, q querier, doctorID string, from, to time.Time) ([]model.ScheduleOverride, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, doctor_id, override_date, start_minute, end_minute, is_available, kind, reason, created_at, updated_at
		FROM schedule_overrides
		WHERE doctor_id = $1 AND override_date >= $2 AND override_date < $3
		ORDER BY override_date, start_minute
	`, doctorID, from, to)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []model.ScheduleOverride
	for rows.Next() {
		var o model.ScheduleOverride
		var kind string
		if err := rows.Scan(&o.ID, &o.DoctorID, &o.Date, &o.StartMinute, &o.EndMinute, &o.IsAvailable, &kind, &o.Reason, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Kind = model.OverrideKind(kind)
		o.Date = o.Date.UTC()
		out = append(out, o)
	}
	return out, classify(rows.Err())
}
