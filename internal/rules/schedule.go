package rules

import (
	"time"

	"github.com/factoryops/core/internal/domain"
)

// IsScheduled implements the §4.5 schedule predicate. now is evaluated in
// the factory's IANA timezone; an unparseable tz falls back to UTC rather
// than failing evaluation outright (an EvaluatorBug is logged by the
// caller in that case).
func IsScheduled(sched domain.ScheduleType, cfg domain.ScheduleConfig, now time.Time, loc *time.Location) bool {
	local := now.In(loc)
	switch sched {
	case domain.ScheduleAlways, "":
		return true
	case domain.ScheduleTimeWindow:
		return inTimeWindow(cfg, local)
	case domain.ScheduleDateRange:
		return inDateRange(cfg, local)
	default:
		return false
	}
}

func inTimeWindow(cfg domain.ScheduleConfig, local time.Time) bool {
	if len(cfg.Days) > 0 {
		weekday := int(local.Weekday())
		found := false
		for _, d := range cfg.Days {
			if d == weekday {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	start, okStart := parseClock(cfg.StartTime)
	end, okEnd := parseClock(cfg.EndTime)
	if !okStart || !okEnd {
		return false
	}
	cur := local.Hour()*60 + local.Minute()

	if end < start {
		// Window wraps past midnight: e.g. 22:00-06:00.
		return cur >= start || cur <= end
	}
	return cur >= start && cur <= end
}

func inDateRange(cfg domain.ScheduleConfig, local time.Time) bool {
	start, okStart := parseDate(cfg.StartDate)
	end, okEnd := parseDate(cfg.EndDate)
	if !okStart || !okEnd {
		return false
	}
	today := local.Format("2006-01-02")
	return today >= start && today <= end
}

func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func parseDate(s string) (string, bool) {
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", false
	}
	return s, true
}
