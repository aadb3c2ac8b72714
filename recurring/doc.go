// Package recurring defines recurring job templates and the schedule
// calculator that decides when they are due.
//
// A [RecurringJob] never runs itself. On every caretaker pass each server
// asks [Due] for the instants the template must have materialized and
// creates one Scheduled job per instant. Instances carry a deterministic id
// and a signature derived from (template id, instant), so any number of
// servers materializing the same instant concurrently produce one job.
//
// Missed instants coalesce: after downtime only the most recent missed
// instant is materialized, never a backlog.
//
// # Schedules
//
// [CronCalculator] understands standard 5-field cron expressions and the
// robfig/cron descriptors ("@daily", "@every 30s", ...), evaluated in the
// template's timezone. "@every" schedules are aligned to multiples of the
// interval from a fixed origin so that every server computes the same
// instants.
package recurring
