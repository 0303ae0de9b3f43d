package reconcile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dteedee/medix/libs/clock"
	"github.com/dteedee/medix/services/scheduling-service/internal/availability"
	"github.com/dteedee/medix/services/scheduling-service/internal/model"
	"github.com/dteedee/medix/services/scheduling-service/internal/storage"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seedOverrides(t *testing.T, store *storage.Memory, overrides ...model.ScheduleOverride) {
	t.Helper()
	err := store.InTx(context.Background(), storage.TxOptions{}, func(ctx context.Context, tx storage.Tx) error {
		for _, o := range overrides {
			if err := tx.InsertOverride(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func override(id string, date time.Time, available bool) model.ScheduleOverride {
	created := now.Add(-72 * time.Hour)
	return model.ScheduleOverride{
		ID: id, DoctorID: "doc-x", Date: date, StartMinute: 540, EndMinute: 600,
		IsAvailable: available, Kind: model.OverrideAvailability, CreatedAt: created, UpdatedAt: created,
	}
}

func byID(t *testing.T, store *storage.Memory, from, to time.Time) map[string]model.ScheduleOverride {
	t.Helper()
	list, err := store.ListOverridesBetween(context.Background(), "doc-x", from, to)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	out := map[string]model.ScheduleOverride{}
	for _, o := range list {
		out[o.ID] = o
	}
	return out
}

func TestSweep_ExpiresOnlyPastAvailableOverrides(t *testing.T) {
	store := storage.NewMemory()
	today := clock.DateOf(now)
	seedOverrides(t, store,
		override("yesterday", today.AddDate(0, 0, -1), true),
		override("old-inactive", today.AddDate(0, 0, -5), false),
		override("today", today, true),
		override("tomorrow", today.AddDate(0, 0, 1), true),
	)
	clk := clock.NewManual(now)
	r := NewReconciler(store, clk, time.UTC, discard(), time.Minute)

	n, err := r.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired, got %d (err=%v)", n, err)
	}
	got := byID(t, store, today.AddDate(0, 0, -7), today.AddDate(0, 0, 7))
	if o := got["yesterday"]; o.IsAvailable || !o.UpdatedAt.Equal(now) {
		t.Fatalf("yesterday's override not expired: %+v", o)
	}
	if o := got["old-inactive"]; !o.UpdatedAt.Equal(now.Add(-72 * time.Hour)) {
		t.Fatalf("already inactive override must not be rewritten: %+v", o)
	}
	if !got["today"].IsAvailable || !got["tomorrow"].IsAvailable {
		t.Fatal("current and future overrides must stay available")
	}

	n, err = r.Sweep(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second sweep must be a no-op, got %d (err=%v)", n, err)
	}

	clk.Advance(24 * time.Hour)
	n, err = r.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("after midnight today's override expires, got %d (err=%v)", n, err)
	}
}

func TestSweep_UsesClinicCalendar(t *testing.T) {
	la, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 19:00 on Mar 2 in Los Angeles, already Mar 3 in UTC.
	clk := clock.NewManual(time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC))
	localToday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	store := storage.NewMemory()
	evening := override("evening", localToday, true)
	evening.StartMinute, evening.EndMinute = 18*60, 22*60
	seedOverrides(t, store, evening, override("day-before", localToday.AddDate(0, 0, -1), true))

	resolver := availability.NewResolver(store, clk, discard(), availability.Config{Location: la})
	want := []time.Time{clk.Now(), time.Date(2026, 3, 2, 22, 0, 0, 0, la)}
	check := func(stage string) {
		t.Helper()
		windows, err := resolver.ResolveSlots(context.Background(), "doc-x", localToday)
		if err != nil {
			t.Fatalf("%s: resolve: %v", stage, err)
		}
		if len(windows) != 1 || !windows[0].Start.Equal(want[0]) || !windows[0].End.Equal(want[1]) {
			t.Fatalf("%s: expected the rest of the evening window, got %v", stage, windows)
		}
	}
	check("before sweep")

	r := NewReconciler(store, clk, la, discard(), time.Minute)
	n, err := r.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected only the day-before override to expire, got %d (err=%v)", n, err)
	}
	got := byID(t, store, localToday.AddDate(0, 0, -3), localToday.AddDate(0, 0, 3))
	if !got["evening"].IsAvailable || got["day-before"].IsAvailable {
		t.Fatalf("unexpected override state after sweep: %+v", got)
	}
	check("after sweep")

	// 00:30 on Mar 3 in Los Angeles.
	clk.Set(time.Date(2026, 3, 3, 8, 30, 0, 0, time.UTC))
	if n, err := r.Sweep(context.Background()); err != nil || n != 1 {
		t.Fatalf("evening override should expire after local midnight, got %d (err=%v)", n, err)
	}
}

type scriptedExpirer struct {
	mu    sync.Mutex
	errs  []error
	calls int
	done  chan struct{}
}

func (s *scriptedExpirer) ExpireOverrides(context.Context, time.Time, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var err error
	if len(s.errs) > 0 {
		err, s.errs = s.errs[0], s.errs[1:]
	}
	if len(s.errs) == 0 && s.done != nil {
		close(s.done)
		s.done = nil
	}
	return 0, err
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRun_SurvivesFailuresAndSkipsHeldLock(t *testing.T) {
	exp := &scriptedExpirer{
		errs: []error{errors.New("connection reset"), storage.ErrLockHeld, nil},
		done: make(chan struct{}),
	}
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := NewReconciler(exp, clock.NewManual(now), nil, logger, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(stopped)
	}()

	select {
	case <-exp.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler stopped ticking after a failure")
	}
	cancel()
	<-stopped

	out := logs.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "connection reset") {
		t.Fatalf("sweep failure not logged at error level:\n%s", out)
	}
	if !strings.Contains(out, "level=INFO msg=\"override reconciliation skipped") {
		t.Fatalf("held lock should be logged at info level:\n%s", out)
	}
}
