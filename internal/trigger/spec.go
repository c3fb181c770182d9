package trigger

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Kind int

const (
	KindCron Kind = iota
	KindInterval
)

func (k Kind) String() string {
	if k == KindInterval {
		return "interval"
	}
	return "cron"
}

// Spec is a parsed schedule string.
//
// Accepted forms:
//   - cron, 5 or 6 fields or a descriptor: "*/5 * * * *", "0 30 * * * *", "@hourly", "@every 2m"
//   - Go duration interval: "500ms", "2h30m"
//   - HH:MM interval: "00:50" is every 50 minutes
//
// "cron:" forces cron parsing; "interval:" and "every:" force an interval.
type Spec struct {
	Kind   Kind
	Cron   string
	Every  time.Duration
	Source string // cron, duration or hhmm
}

// Expr returns the expression handed to cron.
func (s Spec) Expr() string {
	if s.Kind == KindInterval {
		return "@every " + s.Every.String()
	}
	return s.Cron
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("%w: empty", ErrInvalidSchedule)
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("%w: nothing after cron:", ErrInvalidSchedule)
		}
		return Spec{Kind: KindCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseInterval(s[len("every:"):])
	case strings.ContainsAny(s, " \t\r\n") || strings.HasPrefix(s, "@"):
		return Spec{Kind: KindCron, Cron: s, Source: "cron"}, nil
	}

	if spec, err := parseInterval(s); err == nil {
		return spec, nil
	}
	return Spec{}, fmt.Errorf("%w: %q (use cron like '*/5 * * * *', HH:MM like '02:30' or a duration like '55m')", ErrInvalidSchedule, raw)
}

func parseInterval(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Spec{}, fmt.Errorf("%w: interval required", ErrInvalidSchedule)
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Spec{}, fmt.Errorf("%w: minutes out of range in %q", ErrInvalidSchedule, v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return Spec{}, fmt.Errorf("%w: interval must be > 0", ErrInvalidSchedule)
		}
		return Spec{Kind: KindInterval, Every: d, Source: "hhmm"}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: interval %q", ErrInvalidSchedule, v)
	}
	if d <= 0 {
		return Spec{}, fmt.Errorf("%w: interval must be > 0", ErrInvalidSchedule)
	}
	return Spec{Kind: KindInterval, Every: d, Source: "duration"}, nil
}
