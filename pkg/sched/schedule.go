// Package sched answers when a cron expression last fired and when it fires
// next. Periodic sweeps use it to bound their work to the window since the
// previous trigger.
package sched

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the same expressions the runtime scheduler does: five-field
// cron plus descriptors like @hourly and @every 5m.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month |
	cron.Dow | cron.Descriptor)

// Trigger describes the fire times of a cron expression around a reference
// instant.
type Trigger struct {
	Expression string
	Next       time.Time
	// Last is zero when no trigger fired within the past year.
	Last time.Time

	SinceLast time.Duration
	UntilNext time.Duration
}

// Resolve reports the trigger times of expr bracketing ref.
func Resolve(expr string, ref time.Time) (*Trigger, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	info := &Trigger{
		Expression: expr,
		Next:       schedule.Next(ref),
	}
	info.UntilNext = info.Next.Sub(ref)

	// Seed the backward search by stepping an hour at a time until a trigger
	// at or before ref turns up, then roll forward to the latest one still
	// at or before ref.
	searchStart := ref.Add(-time.Minute)
	var last time.Time
	for i := range 366 * 24 {
		checkTime := searchStart.Add(-time.Duration(i) * time.Hour)
		candidate := schedule.Next(checkTime)
		if !candidate.After(ref) {
			last = candidate
			break
		}
	}
	if last.IsZero() {
		return info, nil
	}
	for {
		next := schedule.Next(last)
		if next.After(ref) {
			break
		}
		last = next
	}

	info.Last = last
	info.SinceLast = ref.Sub(last)
	return info, nil
}
