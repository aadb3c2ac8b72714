package client

import (
	"log/slog"
	"time"

	"github.com/xraph/shepherd/ext"
	"github.com/xraph/shepherd/recurring"
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithExtensions runs the state filters of reg around the client's writes.
func WithExtensions(reg *ext.Registry) Option {
	return func(c *Client) { c.extensions = reg }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithScheduleCalculator replaces recurring.CronCalculator for schedule
// validation.
func WithScheduleCalculator(calc recurring.ScheduleCalculator) Option {
	return func(c *Client) { c.calc = calc }
}

// WithDeleteAttempts sets how many times Delete re-reads a job that changed
// under it. The default is 5.
func WithDeleteAttempts(n int) Option {
	return func(c *Client) { c.deleteAttempts = max(n, 1) }
}
