package app

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Clock computes calendar days in the reference timezone used for quota
// resets and podcast keys.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

func NewClock(timezone string) (*Clock, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q failed: %w", timezone, err)
	}
	return &Clock{loc: loc, now: time.Now}, nil
}

// WithNow returns a copy of c that reads the time from now.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	return &Clock{loc: c.loc, now: now}
}

func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

func (c *Clock) Today() string {
	return c.Now().Format(dateLayout)
}

// StartOfToday is 00:00 of the current reference day.
func (c *Clock) StartOfToday() time.Time {
	y, m, d := c.Now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.loc)
}

// Yesterday returns [yesterday 00:00, today 00:00) in the reference timezone.
func (c *Clock) Yesterday() (time.Time, time.Time) {
	end := c.StartOfToday()
	return end.AddDate(0, 0, -1), end
}
