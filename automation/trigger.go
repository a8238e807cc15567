package automation

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var intervalPattern = regexp.MustCompile(`^(\d+)([smhdwy])$`)

// Fixed-length second multipliers. Days, weeks and years are deliberately
// non-calendar-aware approximations; see DESIGN.md.
var unitSeconds = map[string]int64{
	"s": 1,
	"m": 60,
	"h": 3600,
	"d": 86400,
	"w": 604800,
	"y": 31536000,
}

// ParseInterval parses a trigger interval string such as "3h" or "14d".
func ParseInterval(s string) (time.Duration, error) {
	m := intervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("unrecognized interval %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unrecognized interval %q: %w", s, err)
	}
	return time.Duration(n*unitSeconds[m[2]]) * time.Second, nil
}

// ShouldTrigger reports whether a trigger is eligible given the last-run
// timestamp. Unparseable time triggers and unknown trigger types never fire.
func ShouldTrigger(trigger Trigger, lastRun *time.Time, now time.Time) bool {
	switch trigger.Type {
	case TriggerTime:
		interval, err := ParseInterval(trigger.Value)
		if err != nil {
			return false
		}
		if lastRun == nil {
			return true
		}
		return !now.Before(lastRun.Add(interval))
	case TriggerMobileEvent:
		return trigger.Value == PageVisitEvent
	default:
		return false
	}
}
