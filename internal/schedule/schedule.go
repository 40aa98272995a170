// Package schedule validates and describes 5-field cron expressions
// (minute hour day-of-month month day-of-week). The panel never runs a
// scheduler itself; the expressions are installed in the system crontab
// and only parsed here for validation and display.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks that expr is a well-formed 5-field cron expression.
func Validate(expr string) error {
	if len(strings.Fields(expr)) != 5 {
		return fmt.Errorf("invalid cron schedule %q: must be 5 fields (minute hour day month weekday)", expr)
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

// Next returns the next activation after t, or the zero time if expr is invalid.
func Next(expr string, t time.Time) time.Time {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(t)
}

// Humanize renders common cron patterns as readable text. Uncommon
// expressions are returned verbatim.
func Humanize(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	switch {
	case expr == "* * * * *":
		return "Every minute"
	case strings.HasPrefix(minute, "*/") && hour == "*" && dom == "*" && month == "*" && dow == "*":
		return fmt.Sprintf("Every %s minutes", minute[2:])
	case minute == "0" && hour == "*" && dom == "*" && month == "*" && dow == "*":
		return "Every hour"
	case minute == "0" && strings.HasPrefix(hour, "*/") && dom == "*" && month == "*" && dow == "*":
		return fmt.Sprintf("Every %s hours", hour[2:])
	case minute == "0" && dom == "*" && month == "*" && dow == "*" && !strings.ContainsAny(hour, "*/,-"):
		return fmt.Sprintf("Daily at %s:00", hour)
	case minute == "0" && dom == "1" && month == "*" && dow == "*" && !strings.ContainsAny(hour, "*/,-"):
		return fmt.Sprintf("Monthly on 1st at %s:00", hour)
	case minute == "0" && dom == "*" && month == "*" && dow == "0" && !strings.ContainsAny(hour, "*/,-"):
		return fmt.Sprintf("Weekly on Sunday at %s:00", hour)
	}
	return expr
}
