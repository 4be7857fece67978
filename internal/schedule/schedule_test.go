package schedule

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := []struct {
		typ   Type
		value string
	}{
		{TypeCron, "*/5 * * * *"},
		{TypeCron, "@hourly"},
		{TypeInterval, "1h"},
		{TypeInterval, "90s"},
		{TypeDaily, "09:00"},
		{TypeDaily, "08:00,20:30"},
		{TypeWeekly, "MON:09:00"},
		{TypeWeekly, "sun:23:59"},
	}
	for _, tt := range valid {
		if err := Validate(tt.typ, tt.value); err != nil {
			t.Fatalf("Validate(%s, %q): %v", tt.typ, tt.value, err)
		}
	}

	invalid := []struct {
		typ   Type
		value string
	}{
		{TypeCron, "not a cron"},
		{TypeInterval, "banana"},
		{TypeInterval, "30s"}, // below 1m floor
		{TypeDaily, "25:00"},
		{TypeDaily, "08:00,99:99"},
		{TypeWeekly, "FUNDAY:09:00"},
		{TypeWeekly, "09:00"},
		{TypeDaily, ""},
		{Type("yearly"), "x"},
	}
	for _, tt := range invalid {
		if err := Validate(tt.typ, tt.value); err == nil {
			t.Fatalf("Validate(%s, %q) accepted invalid value", tt.typ, tt.value)
		}
	}
}

func TestNextInterval(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	// Run completed at t0: next is exactly lastRunAt + interval.
	sp := Spec{Type: TypeInterval, Value: "3600s", LastRunAt: t0}
	next, err := Next(sp, t0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := t0.Add(time.Hour); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Overdue schedule steps forward past now instead of piling up in
	// the past.
	sp.LastRunAt = t0.Add(-5 * time.Hour)
	next, err = Next(sp, t0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !next.After(t0) {
		t.Fatalf("next = %v, not after now %v", next, t0)
	}
	if want := t0.Add(time.Hour); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// No previous run: first fire is one interval from now.
	sp.LastRunAt = time.Time{}
	next, _ = Next(sp, t0)
	if want := t0.Add(time.Hour); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextDaily(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) // Tuesday

	tests := []struct {
		value string
		want  time.Time
	}{
		// Later today.
		{"20:30", time.Date(2026, 3, 10, 20, 30, 0, 0, time.UTC)},
		// Already passed today: tomorrow.
		{"08:00", time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)},
		// Multiple times: earliest future one wins.
		{"08:00,20:30", time.Date(2026, 3, 10, 20, 30, 0, 0, time.UTC)},
		{"06:00,07:00", time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		next, err := Next(Spec{Type: TypeDaily, Value: tt.value}, now)
		if err != nil {
			t.Fatalf("Next(daily %q): %v", tt.value, err)
		}
		if !next.Equal(tt.want) {
			t.Fatalf("Next(daily %q) = %v, want %v", tt.value, next, tt.want)
		}
	}
}

func TestNextDailyStrictlyAfter(t *testing.T) {
	t.Parallel()

	// Exactly at the configured minute: next fire is tomorrow, never now.
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	next, err := Next(Spec{Type: TypeDaily, Value: "09:00"}, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := now.AddDate(0, 0, 1); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestNextWeekly(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) // Tuesday

	tests := []struct {
		value string
		want  time.Time
	}{
		// Later this week.
		{"FRI:09:00", time.Date(2026, 3, 13, 9, 0, 0, 0, time.UTC)},
		// Earlier today: jumps a full week.
		{"TUE:09:00", time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC)},
		// Later today stays today.
		{"TUE:18:00", time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		next, err := Next(Spec{Type: TypeWeekly, Value: tt.value}, now)
		if err != nil {
			t.Fatalf("Next(weekly %q): %v", tt.value, err)
		}
		if !next.Equal(tt.want) {
			t.Fatalf("Next(weekly %q) = %v, want %v", tt.value, next, tt.want)
		}
	}
}

func TestNextCron(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 3, 0, 0, time.UTC)
	next, err := Next(Spec{Type: TypeCron, Value: "*/5 * * * *"}, now)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := time.Date(2026, 3, 10, 12, 5, 0, 0, time.UTC); !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}
