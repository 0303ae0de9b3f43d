package refunds

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dteedee/medix/libs/clock"
	"github.com/dteedee/medix/services/scheduling-service/internal/lifecycle"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
	"github.com/stripe/stripe-go/v79"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeRefunder struct {
	mu       sync.Mutex
	results  map[string]Result
	failures map[string]error
	requests []Request
}

func (f *fakeRefunder) IssueRefund(_ context.Context, req Request) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.failures[req.AppointmentID]; err != nil {
		return Result{}, err
	}
	return f.results[req.AppointmentID], nil
}

func setup(t *testing.T, ids ...string) (*storage.Memory, *lifecycle.Manager) {
	t.Helper()
	store := storage.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := lifecycle.NewManager(store, nil, clock.NewManual(now), logger, lifecycle.DefaultRefundPolicy())
	ctx := context.Background()
	for i, id := range ids {
		start := now.Add(time.Duration(48+i) * time.Hour)
		err := store.InTx(ctx, storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
			return tx.InsertAppointment(ctx, model.Appointment{
				ID: id, PatientID: "pat-1", DoctorID: "doc-x", StartTime: start, EndTime: start.Add(30 * time.Minute),
				Status: model.StatusScheduled, PaymentStatus: model.PaymentPaid, PaymentReference: "pi_" + id,
				Currency: "usd", TotalAmount: 10000, RefundStatus: model.RefundNone,
			})
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		if _, err := mgr.Transition(ctx, id, model.StatusCancelled, model.Actor{ID: "staff-1", Role: model.RoleStaff}, "clinic closed"); err != nil {
			t.Fatalf("cancel: %v", err)
		}
	}
	return store, mgr
}

func TestRunOnce_IssuesAndSettles(t *testing.T) {
	store, mgr := setup(t, "done", "waiting", "rejected", "broken")
	refunder := &fakeRefunder{
		results: map[string]Result{
			"done":     {Reference: "re_done", Status: StatusSucceeded},
			"waiting":  {Reference: "re_waiting", Status: StatusPending},
			"rejected": {Reference: "re_rejected", Status: StatusFailed},
		},
		failures: map[string]error{"broken": errors.New("stripe unavailable")},
	}
	w := NewWorker(store, mgr, refunder, slog.New(slog.NewTextHandler(io.Discard, nil)), WorkerConfig{})
	ctx := context.Background()

	if issued := w.RunOnce(ctx); issued != 3 {
		t.Fatalf("expected 3 refunds accepted, got %d", issued)
	}
	for _, req := range refunder.requests {
		if req.Amount != 10000 || req.PaymentReference != "pi_"+req.AppointmentID {
			t.Fatalf("unexpected refund request %+v", req)
		}
	}

	want := map[string]model.RefundStatus{
		"done":     model.RefundCompleted,
		"waiting":  model.RefundPending,
		"rejected": model.RefundFailed,
		"broken":   model.RefundPending,
	}
	for id, status := range want {
		a, err := store.GetAppointment(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if a.RefundStatus != status {
			t.Fatalf("%s: expected refund status %s, got %s", id, status, a.RefundStatus)
		}
	}

	// Only the provider failure is retried; the pending one already has a reference.
	delete(refunder.failures, "broken")
	refunder.results["broken"] = Result{Reference: "re_broken", Status: StatusSucceeded}
	refunder.requests = nil
	if issued := w.RunOnce(ctx); issued != 1 || len(refunder.requests) != 1 || refunder.requests[0].AppointmentID != "broken" {
		t.Fatalf("expected a single retry of the failed refund, got %d %+v", issued, refunder.requests)
	}
}

func TestStatusOf(t *testing.T) {
	cases := map[stripe.RefundStatus]Status{
		stripe.RefundStatusSucceeded:      StatusSucceeded,
		stripe.RefundStatusFailed:         StatusFailed,
		stripe.RefundStatusCanceled:       StatusFailed,
		stripe.RefundStatusPending:        StatusPending,
		stripe.RefundStatusRequiresAction: StatusPending,
	}
	for in, want := range cases {
		if got := StatusOf(in); got != want {
			t.Fatalf("%s: expected %s, got %s", in, want, got)
		}
	}
}

func TestNewStripeRefunder_RequiresKey(t *testing.T) {
	if _, err := NewStripeRefunder("  "); err == nil {
		t.Fatal("expected error for empty key")
	}
}
