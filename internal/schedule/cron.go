/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package schedule

import (
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron reports whether expr parses as a standard 5-field cron
// expression.
func ValidateCron(expr string) bool {
	_, err := cronParser.Parse(expr)
	return err == nil
}

// IsTriggered reports whether expr fires for the minute containing
// checkTime, evaluated in the named IANA zone. A minute fires when the
// schedule's next activation after the instant just before the minute's
// start lands exactly on that start instant — the same "does this cron match this
// exact minute" check croniter's get_prev performs.
func IsTriggered(expr, tzName string, checkTime time.Time) bool {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return false
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return false
	}

	reference := checkTime.In(loc).Truncate(time.Minute)
	prev := sched.Next(reference.Add(-time.Nanosecond))
	return prev.Equal(reference)
}

// NextTrigger returns the next activation of expr strictly after from,
// converted back to UTC. The bool is false when expr or tzName is
// invalid.
func NextTrigger(expr, tzName string, from time.Time) (time.Time, bool) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return time.Time{}, false
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, false
	}

	next := sched.Next(from.In(loc))
	return next.UTC(), true
}
