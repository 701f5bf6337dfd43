package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextDue(t *testing.T) {
	from := time.Date(2026, 10, 19, 14, 29, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		tz   string
		want time.Time
	}{
		{"every 30 minutes", "*/30 * * * *", "", time.Date(2026, 10, 19, 14, 30, 0, 0, time.UTC)},
		{"daily at 2", "0 2 * * *", "", time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC)},
		{"hourly descriptor", "@hourly", "", time.Date(2026, 10, 19, 15, 0, 0, 0, time.UTC)},
		{"every interval", "@every 10m", "", time.Date(2026, 10, 19, 14, 39, 0, 0, time.UTC)},
		{"invalid timezone falls back to UTC", "0 2 * * *", "Mars/Olympus", time.Date(2026, 10, 20, 2, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDue(tt.expr, tt.tz, from)
			if err != nil {
				t.Fatalf("NextDue() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"@daily", false},
		{"* * *", true},
		{"61 * * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateCronExpr(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidCron) {
				t.Errorf("error should wrap ErrInvalidCron: %v", err)
			}
		})
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(Config{Expr: "bad", Job: func(context.Context, int) error { return nil }}); !errors.Is(err, ErrInvalidCron) {
		t.Errorf("New() error = %v, want ErrInvalidCron", err)
	}
	if _, err := New(Config{Expr: "@hourly"}); !errors.Is(err, ErrNoJob) {
		t.Errorf("New() error = %v, want ErrNoJob", err)
	}
}

func TestScheduler_RunMaxTicks(t *testing.T) {
	var ticks []int
	s, err := New(Config{
		Expr:           "@every 10ms",
		RunImmediately: true,
		MaxTicks:       3,
		Job: func(_ context.Context, tick int) error {
			ticks = append(ticks, tick)
			if tick == 2 {
				return errors.New("batch failed")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(ticks) != 3 || ticks[0] != 1 || ticks[2] != 3 {
		t.Errorf("ticks = %v, want [1 2 3]", ticks)
	}
	if s.failed != 1 {
		t.Errorf("failed = %d, want 1", s.failed)
	}
	if s.NextDueAt().IsZero() {
		t.Error("NextDueAt() should be set after waiting")
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	calls := 0
	s, err := New(Config{
		Expr: "0 0 1 1 *",
		Job: func(context.Context, int) error {
			calls++
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
