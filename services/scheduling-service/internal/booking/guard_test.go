package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dteedee/medix/libs/clock"
	"github.com/dteedee/medix/services/scheduling-service/internal/availability"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/outbox"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return monday.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

type fixture struct {
	store *storage.Memory
	clock *clock.Manual
	guard *Guard
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store := storage.NewMemory()
	clk := clock.NewManual(monday.Add(8 * time.Hour))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := availability.NewResolver(store, clk, logger, availability.Config{Location: time.UTC})
	cfg.InitialBackoff = time.Millisecond
	err := store.InTx(context.Background(), storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertWeeklyRule(ctx, model.WeeklyRule{
			ID: "rule-1", DoctorID: "doc-x", Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60, IsAvailable: true,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return &fixture{store: store, clock: clk, guard: NewGuard(store, resolver, clk, logger, cfg)}
}

func request(patient string, start, end time.Time) Request {
	return Request{
		PatientID:       patient,
		DoctorID:        "doc-x",
		Start:           start,
		End:             end,
		PaymentMethod:   "card",
		ConsultationFee: 5000,
		PlatformFee:     500,
		Discount:        1000,
	}
}

func TestTryBook_CreatesScheduledWithHistoryAndEvent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	appt, err := f.guard.TryBook(ctx, request("pat-1", at(14, 0), at(14, 30)), model.Actor{})
	if err != nil {
		t.Fatalf("TryBook: %v", err)
	}
	if appt.Status != model.StatusScheduled || appt.PaymentStatus != model.PaymentUnpaid || appt.TotalAmount != 4500 {
		t.Fatalf("unexpected appointment %+v", appt)
	}

	history, _ := f.store.ListStatusHistory(ctx, appt.ID)
	if len(history) != 1 || history[0].OldStatus.Valid() || history[0].NewStatus != model.StatusScheduled {
		t.Fatalf("expected one initial history row, got %+v", history)
	}
	if history[0].ChangedBy != "pat-1" || history[0].ChangedByRole != model.RolePatient {
		t.Fatalf("booking actor defaults to the patient, got %+v", history[0])
	}
	events := f.store.Events()
	if len(events) != 1 || events[0].EventType != outbox.EventAppointmentBooked {
		t.Fatalf("expected a booked event, got %+v", events)
	}
}

// Simultaneous requests for the same slot.
func TestTryBook_ConcurrentSameSlot(t *testing.T) {
	f := newFixture(t, Config{})
	const callers = 8

	var wg sync.WaitGroup
	results := make(chan error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := f.guard.TryBook(context.Background(), request("pat-"+string(rune('a'+i)), at(14, 0), at(14, 30)), model.Actor{})
			results <- err
		}(i)
	}
	close(start)
	wg.Wait()
	close(results)

	var ok, taken int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, model.ErrSlotTaken):
			taken++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || taken != callers-1 {
		t.Fatalf("expected exactly one success, got ok=%d taken=%d", ok, taken)
	}
}

func TestTryBook_OverlapVariants(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	if _, err := f.guard.TryBook(ctx, request("pat-1", at(10, 0), at(11, 0)), model.Actor{}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	cases := []struct {
		name       string
		start, end time.Time
		taken      bool
	}{
		{"inside", at(10, 15), at(10, 45), true},
		{"covering", at(9, 30), at(11, 30), true},
		{"head overlap", at(9, 30), at(10, 1), true},
		{"tail overlap", at(10, 59), at(11, 30), true},
		{"touching before", at(9, 30), at(10, 0), false},
		{"touching after", at(11, 0), at(11, 30), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.guard.TryBook(ctx, request("pat-2", tc.start, tc.end), model.Actor{})
			if tc.taken && !errors.Is(err, model.ErrSlotTaken) {
				t.Fatalf("expected SlotTaken, got %v", err)
			}
			if !tc.taken && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
		})
	}
}

func TestTryBook_CancelledAppointmentFreesSlot(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	err := f.store.InTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertAppointment(ctx, model.Appointment{
			ID: "old", DoctorID: "doc-x", StartTime: at(14, 0), EndTime: at(14, 30), Status: model.StatusCancelled,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := f.guard.TryBook(ctx, request("pat-1", at(14, 0), at(14, 30)), model.Actor{}); err != nil {
		t.Fatalf("terminal appointments must not block: %v", err)
	}
}

func TestTryBook_Validation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	cases := map[string]Request{
		"end before start": request("pat-1", at(14, 30), at(14, 0)),
		"zero length":      request("pat-1", at(14, 0), at(14, 0)),
		"in the past":      request("pat-1", at(7, 0), at(7, 30)),
		"missing patient":  request("", at(14, 0), at(14, 30)),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := f.guard.TryBook(ctx, req, model.Actor{}); !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	neg := request("pat-1", at(14, 0), at(14, 30))
	neg.Discount = 10_000
	if _, err := f.guard.TryBook(ctx, neg, model.Actor{}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected validation error for oversize discount, got %v", err)
	}
}

func TestTryBook_EnforceAvailability(t *testing.T) {
	f := newFixture(t, Config{EnforceAvailability: true})
	ctx := context.Background()
	if _, err := f.guard.TryBook(ctx, request("pat-1", at(18, 0), at(18, 30)), model.Actor{}); !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected outside-availability validation error, got %v", err)
	}
	if _, err := f.guard.TryBook(ctx, request("pat-1", at(16, 30), at(17, 0)), model.Actor{}); err != nil {
		t.Fatalf("booking at end of window should pass: %v", err)
	}
}

func TestTryBook_RetriesThenBusy(t *testing.T) {
	f := newFixture(t, Config{MaxAttempts: 3})
	ctx := context.Background()

	f.store.FailNextTx(storage.ErrRetryable)
	if _, err := f.guard.TryBook(ctx, request("pat-1", at(14, 0), at(14, 30)), model.Actor{}); err != nil {
		t.Fatalf("one transient failure should be retried: %v", err)
	}

	f.store.FailNextTx(storage.ErrRetryable, storage.ErrRetryable, storage.ErrRetryable)
	_, err := f.guard.TryBook(ctx, request("pat-2", at(15, 0), at(15, 30)), model.Actor{})
	if !errors.Is(err, model.ErrBusy) || errors.Is(err, model.ErrSlotTaken) {
		t.Fatalf("expected Busy after exhausting attempts, got %v", err)
	}
}

func TestTryBook_ExclusionViolationIsSlotTaken(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.FailNextTx(storage.ErrOverlap)
	_, err := f.guard.TryBook(context.Background(), request("pat-1", at(14, 0), at(14, 30)), model.Actor{})
	if !errors.Is(err, model.ErrSlotTaken) {
		t.Fatalf("expected SlotTaken, got %v", err)
	}
}
