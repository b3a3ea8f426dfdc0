package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a normalized schedule string.
//
// Accepted forms:
//   - Go duration: "5m", "2h30m"
//   - HH:MM interval: "00:05" (five minutes), "02:30"
//   - cron: "*/5 * * * *", "@hourly", "@every 5m"
//
// "cron:" forces cron parsing; "every:" and "interval:" force an interval.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var errNonPositive = errors.New("interval must be > 0")

// ParseSchedule parses a schedule string into either a cron expression or an interval.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errors.New("schedule required")
	}

	low := strings.ToLower(s)
	if rest, ok := cutPrefixFold(s, low, "cron:"); ok {
		if rest == "" {
			return ParsedSpec{}, errors.New("cron schedule required after 'cron:'")
		}
		return ParsedSpec{Kind: SpecCron, Cron: rest, Source: "cron"}, nil
	}
	for _, p := range []string{"every:", "interval:"} {
		if rest, ok := cutPrefixFold(s, low, p); ok {
			return parseInterval(rest)
		}
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSpec{Kind: SpecCron, Cron: s, Source: "cron"}, nil
	}
	ps, err := parseInterval(s)
	if err != nil && !errors.Is(err, errNonPositive) {
		return ParsedSpec{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '00:05', or duration like '5m')", raw)
	}
	return ps, err
}

func cutPrefixFold(s, low, prefix string) (string, bool) {
	if !strings.HasPrefix(low, prefix) {
		return "", false
	}
	return strings.TrimSpace(s[len(prefix):]), true
}

func parseInterval(v string) (ParsedSpec, error) {
	if v == "" {
		return ParsedSpec{}, errors.New("interval required")
	}
	var (
		d   time.Duration
		src string
	)
	if hh, mm, ok := strings.Cut(v, ":"); ok {
		h, herr := strconv.Atoi(hh)
		m, merr := strconv.Atoi(mm)
		if herr != nil || merr != nil || len(mm) != 2 || h < 0 || m < 0 || m > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid HH:MM %q", v)
		}
		d, src = time.Duration(h)*time.Hour+time.Duration(m)*time.Minute, "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q", v)
		}
		src = "duration"
	}
	if d <= 0 {
		return ParsedSpec{}, errNonPositive
	}
	return ParsedSpec{Kind: SpecInterval, Every: d, Source: src}, nil
}

// Spec returns the expression handed to robfig/cron.
func (p ParsedSpec) Spec() string {
	if p.Kind == SpecInterval {
		return "@every " + p.Every.String()
	}
	return p.Cron
}
