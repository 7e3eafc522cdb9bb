package simclock

import (
	"errors"
	"sync"
	"time"
)

// Clock is the time source injected into the planner and the autonomy
// loop. Only whole simulated days matter to the business logic.
type Clock interface {
	CurrentDate() (time.Time, error)
}

// SimStartDate is the first simulated day of every run.
var SimStartDate = time.Date(2050, time.January, 1, 0, 0, 0, 0, time.UTC)

var ErrNotInitialized = errors.New("simclock: clock has not been initialized")

// SimClock scales elapsed real time into simulated days. One real
// DayDuration equals one simulated day, starting at SimStartDate.
type SimClock struct {
	mu          sync.RWMutex
	DayDuration time.Duration
	realStart   time.Time
	started     bool
	now         func() time.Time // overridable for tests
}

func New(dayDuration time.Duration) *SimClock {
	if dayDuration <= 0 {
		dayDuration = time.Minute
	}
	return &SimClock{DayDuration: dayDuration, now: time.Now}
}

// Initialize anchors the clock to the real-world start instant handed to
// us when the simulation begins.
func (c *SimClock) Initialize(realStart time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realStart = realStart
	c.started = true
}

// Reset clears the anchor for a fresh simulation run.
func (c *SimClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
}

// CurrentDate returns the simulated date, truncated to midnight UTC.
func (c *SimClock) CurrentDate() (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return time.Time{}, ErrNotInitialized
	}
	elapsed := c.now().Sub(c.realStart)
	days := int(elapsed / c.DayDuration)
	if days < 0 {
		days = 0
	}
	return SimStartDate.AddDate(0, 0, days), nil
}

// DayBounds returns the start and end instants of the given simulated day.
func DayBounds(date time.Time) (start, end time.Time) {
	start = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	return start, end
}

// Fixed is a Clock pinned to a single date, used by tests and one-shot
// planning invocations.
type Fixed struct{ Date time.Time }

func (f Fixed) CurrentDate() (time.Time, error) { return f.Date, nil }
