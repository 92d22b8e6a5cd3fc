// Package schedule parses maintenance schedule expressions: standard cron
// expressions (including gronx tags such as @daily) and "@every <duration>".
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const (
	KindCron     = "cron"
	KindInterval = "interval"
)

type Schedule struct {
	Kind     string        `json:"kind"`                // "cron" or "interval"
	CronExpr string        `json:"cron_expr,omitempty"` // Cron expression (if kind=cron)
	Interval time.Duration `json:"interval,omitempty"`  // Interval (if kind=interval)
}

const everyPrefix = "@every "

// Parse validates expr and returns its schedule.
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	if rest, ok := strings.CutPrefix(expr, everyPrefix); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", rest, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("interval must be positive")
		}
		return &Schedule{Kind: KindInterval, Interval: d}, nil
	}

	if !gronx.New().IsValid(expr) {
		return nil, fmt.Errorf("invalid cron expression: %s", expr)
	}
	return &Schedule{Kind: KindCron, CronExpr: expr}, nil
}

// Next returns the first run strictly after from.
func (s *Schedule) Next(from time.Time) (time.Time, error) {
	switch s.Kind {
	case KindCron:
		return gronx.NextTickAfter(s.CronExpr, from, false)
	case KindInterval:
		return from.Add(s.Interval), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
}

// String returns a human-readable description.
func (s *Schedule) String() string {
	switch s.Kind {
	case KindCron:
		if strings.HasPrefix(s.CronExpr, "@") {
			return s.CronExpr
		}
		return "cron " + s.CronExpr
	case KindInterval:
		d := s.Interval
		switch {
		case d%time.Hour == 0 && d >= time.Hour:
			h := int(d.Hours())
			if h == 1 {
				return "Every hour"
			}
			return fmt.Sprintf("Every %d hours", h)
		case d%time.Minute == 0 && d >= time.Minute:
			m := int(d.Minutes())
			if m == 1 {
				return "Every minute"
			}
			return fmt.Sprintf("Every %d minutes", m)
		default:
			return "Every " + d.String()
		}
	default:
		return s.Kind
	}
}
