// Package schedule defines per-user plugin recurrence rules and the
// next-run computation the dispatcher relies on.
//
// Four rule types are supported:
//
//	cron      crontab expression ("*/5 * * * *", "@hourly")
//	interval  Go duration ("3600s", "2h30m")
//	daily     time of day "HH:MM", or "HH:MM,HH:MM" for multiple times
//	weekly    weekday + time "MON:09:00"
//
// Values are validated at write time; a spec that reaches the dispatcher
// is assumed syntactically valid.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrBadSpec wraps all write-time validation failures.
var ErrBadSpec = errors.New("invalid schedule spec")

type Type string

const (
	TypeCron     Type = "cron"
	TypeInterval Type = "interval"
	TypeDaily    Type = "daily"
	TypeWeekly   Type = "weekly"
)

// Seed is the schedule a plugin proposes for newly activated users.
type Seed struct {
	Type  Type
	Value string
}

// Spec is one (user, plugin) recurrence rule.
type Spec struct {
	UserID    int64
	Slug      string
	Type      Type
	Value     string
	Metadata  map[string]string
	NextRunAt time.Time
	LastRunAt time.Time
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks that value is syntactically valid for its type.
func Validate(t Type, value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return fmt.Errorf("%w: value required", ErrBadSpec)
	}
	switch t {
	case TypeCron:
		if _, err := cronParser.Parse(v); err != nil {
			return fmt.Errorf("%w: cron %q: %v", ErrBadSpec, v, err)
		}
	case TypeInterval:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: interval %q: %v", ErrBadSpec, v, err)
		}
		if d < time.Minute {
			return fmt.Errorf("%w: interval %q must be >= 1m", ErrBadSpec, v)
		}
	case TypeDaily:
		for _, part := range strings.Split(v, ",") {
			if _, _, err := parseHHMM(part); err != nil {
				return fmt.Errorf("%w: %v", ErrBadSpec, err)
			}
		}
	case TypeWeekly:
		if _, _, _, err := parseWeekly(v); err != nil {
			return fmt.Errorf("%w: %v", ErrBadSpec, err)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadSpec, t)
	}
	return nil
}

// Next computes the next run time for sp, strictly after now.
//
// Recomputation is unconditional on the outcome of the previous run:
//
//	cron     next cron match after now
//	interval lastRunAt + interval (stepped forward past now if overdue)
//	daily    earliest configured time of day after now
//	weekly   next weekday+time occurrence after now
func Next(sp Spec, now time.Time) (time.Time, error) {
	v := strings.TrimSpace(sp.Value)
	switch sp.Type {
	case TypeCron:
		cs, err := cronParser.Parse(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: cron %q: %v", ErrBadSpec, v, err)
		}
		return cs.Next(now), nil

	case TypeInterval:
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return time.Time{}, fmt.Errorf("%w: interval %q", ErrBadSpec, v)
		}
		last := sp.LastRunAt
		if last.IsZero() {
			return now.Add(d), nil
		}
		next := last.Add(d)
		for !next.After(now) {
			next = next.Add(d)
		}
		return next, nil

	case TypeDaily:
		return nextDaily(v, now)

	case TypeWeekly:
		return nextWeekly(v, now)
	}
	return time.Time{}, fmt.Errorf("%w: unknown type %q", ErrBadSpec, sp.Type)
}

func nextDaily(value string, now time.Time) (time.Time, error) {
	var best time.Time
	for _, part := range strings.Split(value, ",") {
		h, m, err := parseHHMM(part)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrBadSpec, err)
		}
		cand := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
		if !cand.After(now) {
			cand = cand.AddDate(0, 0, 1)
		}
		if best.IsZero() || cand.Before(best) {
			best = cand
		}
	}
	if best.IsZero() {
		return time.Time{}, fmt.Errorf("%w: daily value required", ErrBadSpec)
	}
	return best, nil
}

func nextWeekly(value string, now time.Time) (time.Time, error) {
	wd, h, m, err := parseWeekly(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrBadSpec, err)
	}
	cand := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	for cand.Weekday() != wd || !cand.After(now) {
		cand = cand.AddDate(0, 0, 1)
	}
	return cand, nil
}

var weekdays = map[string]time.Weekday{
	"SUN": time.Sunday,
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
}

// parseWeekly parses "DAY:HH:MM" (e.g. "MON:09:00").
func parseWeekly(s string) (time.Weekday, int, int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid weekly value %q, expected DAY:HH:MM", s)
	}
	wd, ok := weekdays[strings.ToUpper(strings.TrimSpace(parts[0]))]
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid weekday in %q", s)
	}
	h, m, err := parseHHMM(parts[1])
	if err != nil {
		return 0, 0, 0, err
	}
	return wd, h, m, nil
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
