// Package marketclock centralizes "now" in exchange-local time and the
// trading-session calendar used to gate scans.
package marketclock

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current time in the exchange's location
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock and converts it to the exchange location
type SystemClock struct {
	loc *time.Location
}

// NewSystemClock creates a wall clock bound to loc
func NewSystemClock(loc *time.Location) *SystemClock {
	return &SystemClock{loc: loc}
}

// Now returns the current exchange-local time
func (c *SystemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

// ManualClock is a settable clock for replays and tests
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock frozen at t
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{now: t}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// TimeOfDay is a wall-clock time within a day, in minutes after midnight
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time of day %q: out of range", s)
	}
	return TimeOfDay(h*60 + m), nil
}

// On returns the instant of this time of day on t's calendar date, in t's location
func (d TimeOfDay) On(t time.Time) time.Time {
	y, mo, day := t.Date()
	return time.Date(y, mo, day, int(d)/60, int(d)%60, 0, 0, t.Location())
}

func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(d)/60, int(d)%60)
}

// Session describes the exchange's trading day and the scan window inside it
type Session struct {
	Location    *time.Location
	Open        TimeOfDay
	WindowStart TimeOfDay
	WindowEnd   TimeOfDay
}

// NewSession builds a Session from a time zone name and "HH:MM" bounds
func NewSession(tz, open, windowStart, windowEnd string) (*Session, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange time zone %q: %w", tz, err)
	}

	o, err := ParseTimeOfDay(open)
	if err != nil {
		return nil, err
	}
	ws, err := ParseTimeOfDay(windowStart)
	if err != nil {
		return nil, err
	}
	we, err := ParseTimeOfDay(windowEnd)
	if err != nil {
		return nil, err
	}
	if we <= ws {
		return nil, fmt.Errorf("scan window end %s must be after start %s", we, ws)
	}

	return &Session{Location: loc, Open: o, WindowStart: ws, WindowEnd: we}, nil
}

// IsTradingDay reports whether t falls on a weekday. Exchange holidays are not modeled.
func (s *Session) IsTradingDay(t time.Time) bool {
	wd := t.In(s.Location).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// InScanWindow reports whether t is a trading day inside [WindowStart, WindowEnd)
func (s *Session) InScanWindow(t time.Time) bool {
	local := t.In(s.Location)
	if !s.IsTradingDay(local) {
		return false
	}
	start := s.WindowStart.On(local)
	end := s.WindowEnd.On(local)
	return !local.Before(start) && local.Before(end)
}

// OpenOn returns the session open instant on t's exchange-local date
func (s *Session) OpenOn(t time.Time) time.Time {
	return s.Open.On(t.In(s.Location))
}

// DateKey returns t's exchange-local calendar date as YYYY-MM-DD
func (s *Session) DateKey(t time.Time) string {
	return t.In(s.Location).Format("2006-01-02")
}

// StartOfDay returns midnight of t's exchange-local date
func (s *Session) StartOfDay(t time.Time) time.Time {
	local := t.In(s.Location)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.Location)
}
