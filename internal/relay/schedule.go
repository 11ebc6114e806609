package relay

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule decides when the loop wakes up next. It mirrors cron.Schedule.
type Schedule interface {
	Next(time.Time) time.Time
}

// ScheduleKind describes the normalized kind of a schedule string.
type ScheduleKind int

const (
	ScheduleCron ScheduleKind = iota
	ScheduleInterval
)

// ParsedSchedule is a parsed poll schedule.
//
// Supported forms:
//   - Interval duration: "10m", "2h30m"
//   - Interval HH:MM: "00:10" (10 minutes)
//   - Cron: "*/10 * * * *", "@every 10m", "@hourly"
//
// Optional prefixes "cron:" and "interval:"/"every:" force the kind.
type ParsedSchedule struct {
	Schedule
	Kind   ScheduleKind
	Every  time.Duration
	Expr   string
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Every returns a fixed-interval schedule: Next(t) is exactly t+d.
func Every(d time.Duration) Schedule { return everySchedule(d) }

type everySchedule time.Duration

func (e everySchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

// ParseSchedule parses a poll schedule string.
func ParseSchedule(raw string) (ParsedSchedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSchedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if _, err := time.ParseDuration(s); err == nil || reHHMM.MatchString(s) {
		return parseInterval(s)
	}
	return ParsedSchedule{}, fmt.Errorf(
		"invalid schedule %q (use a duration like '10m', HH:MM like '00:10', or cron like '*/10 * * * *')",
		raw,
	)
}

func parseCron(expr string) (ParsedSchedule, error) {
	if expr == "" {
		return ParsedSchedule{}, fmt.Errorf("cron schedule required")
	}
	sch, err := cronParser.Parse(expr)
	if err != nil {
		return ParsedSchedule{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return ParsedSchedule{Schedule: sch, Kind: ScheduleCron, Expr: expr, Source: "cron"}, nil
}

func parseInterval(v string) (ParsedSchedule, error) {
	if v == "" {
		return ParsedSchedule{}, fmt.Errorf("interval required")
	}
	src := "duration"
	var d time.Duration
	if reHHMM.MatchString(v) {
		var err error
		if d, err = parseHHMMDuration(v); err != nil {
			return ParsedSchedule{}, err
		}
		src = "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return ParsedSchedule{}, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '10m')", v)
		}
	}
	if d < time.Second {
		return ParsedSchedule{}, fmt.Errorf("interval must be >= 1s")
	}
	return ParsedSchedule{Schedule: Every(d), Kind: ScheduleInterval, Every: d, Expr: v, Source: src}, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
