package recurring

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Schedule is a parsed recurring-job schedule: either a cron expression
// (robfig/cron, five-field or @-descriptor) or a fixed interval.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly"
//   - Interval duration: "30m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// The prefixes "cron:" and "every:" force one interpretation.
type Schedule struct {
	Cron  string
	Every time.Duration
}

func (s Schedule) IsCron() bool { return s.Cron != "" }

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseSchedule normalizes a schedule string from config.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Schedule{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Schedule{Cron: expr}, nil
	}
	if strings.HasPrefix(low, "every:") {
		d, err := parseInterval(strings.TrimSpace(s[len("every:"):]))
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Every: d}, nil
	}

	// Whitespace or a leading '@' can only be cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Schedule{Cron: s}, nil
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMM(s)
		if err != nil {
			return Schedule{}, err
		}
		return Schedule{Every: d}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Schedule{}, fmt.Errorf("interval must be > 0")
		}
		return Schedule{Every: d}, nil
	}

	return Schedule{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '30m')",
		raw,
	)
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		return parseHHMM(v)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '30m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
