package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeArchiver struct {
	cutoffs  []time.Time
	salesErr error
}

func (f *fakeArchiver) ArchiveRetirements(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 3, nil
}

func (f *fakeArchiver) ArchiveSales(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	if f.salesErr != nil {
		return 0, f.salesErr
	}
	return 5, nil
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, before)
	return 7, nil
}

func newTestArchiver(f *fakeArchiver) *Archiver {
	a := NewArchiver(f, 30, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.nowFn = func() time.Time { return time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC) }
	return a
}

func TestRunUsesRetentionCutoff(t *testing.T) {
	f := &fakeArchiver{}
	stats, err := newTestArchiver(f).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats != (RunStats{Retirements: 3, Sales: 5, Audit: 7}) {
		t.Fatalf("stats = %+v", stats)
	}
	want := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	for _, c := range f.cutoffs {
		if !c.Equal(want) {
			t.Fatalf("cutoff = %v, want %v", c, want)
		}
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	boom := errors.New("bucket unavailable")
	f := &fakeArchiver{salesErr: boom}
	stats, err := newTestArchiver(f).Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if len(f.cutoffs) != 3 || stats.Audit != 7 || stats.Sales != 0 {
		t.Fatalf("calls = %d, stats = %+v", len(f.cutoffs), stats)
	}
}

func TestScheduleNext(t *testing.T) {
	after := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC) // Thursday
	cases := []struct {
		expr string
		want time.Time
	}{
		{"0 3 1 * *", time.Date(2026, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 1, 15, 10, 45, 0, 0, time.UTC)},
		{"0 9-17 * * 1-5", time.Date(2026, 1, 15, 11, 0, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2026, 1, 18, 0, 0, 0, 0, time.UTC)},
		{"30 10 15 1 *", time.Date(2027, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"5,35 10 * * *", time.Date(2026, 1, 15, 10, 35, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		s, err := ParseCron(tc.expr)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.expr, err)
		}
		got, err := s.Next(after)
		if err != nil {
			t.Fatalf("next %q: %v", tc.expr, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("next(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestParseCronRejects(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "* * 0 * *", "*/0 * * * *", "5-1 * * * *", "a * * * *"} {
		if _, err := ParseCron(expr); err == nil {
			t.Errorf("ParseCron(%q) succeeded", expr)
		}
	}
}

func TestRunCronStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newTestArchiver(&fakeArchiver{}).RunCron(ctx, "0 3 1 * *")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want %v", err, context.Canceled)
	}
	if err := newTestArchiver(&fakeArchiver{}).RunCron(context.Background(), "bad"); err == nil {
		t.Fatal("invalid cron accepted")
	}
}
