// Package bizhours decides whether an instant falls inside the support desk's
// working week.
package bizhours

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Gate is a stateless business-hours predicate: Monday to Friday, with the
// local wall clock in [start, end).
type Gate struct {
	loc   *time.Location
	start int // minutes after midnight
	end   int
}

// New builds a gate from "HH:MM" bounds and a timezone given either as an IANA
// name or a fixed "+HH:MM" offset.
func New(start, end, tz string) (*Gate, error) {
	s, err := parseClock(start)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	e, err := parseClock(end)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if e <= s {
		return nil, fmt.Errorf("end %s must be after start %s", end, start)
	}
	loc, err := ParseLocation(tz)
	if err != nil {
		return nil, err
	}
	return &Gate{loc: loc, start: s, end: e}, nil
}

// IsBusinessHours reports whether t is inside the configured window.
func (g *Gate) IsBusinessHours(t time.Time) bool {
	local := t.In(g.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= g.start && minute < g.end
}

func (g *Gate) Location() *time.Location {
	return g.loc
}

func (g *Gate) String() string {
	return fmt.Sprintf("Mon-Fri %02d:%02d-%02d:%02d %s", g.start/60, g.start%60, g.end/60, g.end%60, g.loc)
}

// ParseLocation accepts "UTC", an IANA zone such as "Asia/Jakarta", or a fixed
// offset such as "+07:00", "-0330" or "+7".
func ParseLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	if tz[0] != '+' && tz[0] != '-' {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("timezone %q: %w", tz, err)
		}
		return loc, nil
	}

	sign := 1
	if tz[0] == '-' {
		sign = -1
	}
	body := strings.ReplaceAll(tz[1:], ":", "")
	var hours, minutes int
	var err error
	switch len(body) {
	case 1, 2:
		hours, err = strconv.Atoi(body)
	case 4:
		hours, err = strconv.Atoi(body[:2])
		if err == nil {
			minutes, err = strconv.Atoi(body[2:])
		}
	default:
		return nil, fmt.Errorf("timezone offset %q: want +HH:MM", tz)
	}
	if err != nil || hours > 14 || minutes > 59 {
		return nil, fmt.Errorf("timezone offset %q: want +HH:MM", tz)
	}
	return time.FixedZone("UTC"+tz, sign*(hours*3600+minutes*60)), nil
}

func parseClock(v string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("clock %q: want HH:MM", v)
	}
	return t.Hour()*60 + t.Minute(), nil
}
