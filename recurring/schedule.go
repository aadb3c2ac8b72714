package recurring

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/shepherd"
)

// ScheduleCalculator computes due instants of schedule expressions.
type ScheduleCalculator interface {
	// Next returns the first due instant strictly after ref, evaluated in
	// loc.
	Next(expression string, ref time.Time, loc *time.Location) (time.Time, error)
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", shepherd.ErrInvalidSchedule, expr, err)
	}
	return sched, nil
}

// CronCalculator is the default ScheduleCalculator. Parsed expressions are
// cached; it is safe for concurrent use.
type CronCalculator struct {
	parsed sync.Map // expression -> cronlib.Schedule
}

// NewCronCalculator returns an empty calculator.
func NewCronCalculator() *CronCalculator {
	return &CronCalculator{}
}

// Next implements ScheduleCalculator.
func (c *CronCalculator) Next(expression string, ref time.Time, loc *time.Location) (time.Time, error) {
	sched, err := c.schedule(expression)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.UTC
	}

	if every, ok := sched.(cronlib.ConstantDelaySchedule); ok {
		// Aligned to a fixed origin rather than to ref so all servers agree.
		return ref.UTC().Truncate(every.Delay).Add(every.Delay), nil
	}

	next := sched.Next(ref.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q never fires", shepherd.ErrInvalidSchedule, expression)
	}
	return next.UTC(), nil
}

func (c *CronCalculator) schedule(expression string) (cronlib.Schedule, error) {
	if cached, ok := c.parsed.Load(expression); ok {
		return cached.(cronlib.Schedule), nil
	}
	sched, err := ParseSchedule(expression)
	if err != nil {
		return nil, err
	}
	c.parsed.Store(expression, sched)
	return sched, nil
}

// maxInstants bounds a single evaluation.
const maxInstants = 100_000

// Due returns the instants r must have materialized by now: the most recent
// instant in (from, now], if any, followed by every instant in (now, upTo].
// Earlier missed instants coalesce into the most recent one.
func Due(calc ScheduleCalculator, r *RecurringJob, from, now, upTo time.Time) ([]time.Time, error) {
	loc, err := r.Location()
	if err != nil {
		return nil, err
	}

	var (
		due      []time.Time
		lastPast time.Time
		t        = from
	)
	for i := 0; ; i++ {
		if i == maxInstants {
			return nil, fmt.Errorf("%w: %q has more than %d instants between %s and %s",
				shepherd.ErrInvalidSchedule, r.Schedule, maxInstants, from.Format(time.RFC3339), upTo.Format(time.RFC3339))
		}
		next, err := calc.Next(r.Schedule, t, loc)
		if err != nil {
			return nil, err
		}
		if !next.After(t) {
			return nil, fmt.Errorf("%w: %q does not advance past %s", shepherd.ErrInvalidSchedule, r.Schedule, t)
		}
		if next.After(upTo) {
			break
		}
		if next.After(now) {
			due = append(due, next)
		} else {
			lastPast = next
		}
		t = next
	}

	if !lastPast.IsZero() {
		due = append([]time.Time{lastPast}, due...)
	}
	return due, nil
}
