package missing

import (
	"time"

	apperrors "ResQFlow/pkg/errors"
)

// DeclarationThresholdDays is the number of days after which an Active case is flagged for
// a declaration of death. The flag is advisory.
const DeclarationThresholdDays = 20

type Status string

const (
	Active Status = "Active"
	Found  Status = "Found"
	Dead   Status = "Dead"
	Closed Status = "Closed"
)

var allowed = map[Status][]Status{
	Active: {Found, Dead, Closed},
	Found:  {Closed},
	Dead:   {Closed},
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case Active, Found, Dead, Closed:
		return st, true
	}
	return "", false
}

// Next validates the move from s to to.
func (s Status) Next(to Status) (Status, error) {
	if s == Closed {
		return "", apperrors.TerminalState("missing person case", string(s))
	}
	for _, t := range allowed[s] {
		if t == to {
			return to, nil
		}
	}
	return "", apperrors.InvalidTransition("missing person case", string(s), string(to))
}

// DaysMissing counts whole days since lastSeen; never negative.
func DaysMissing(lastSeen, now time.Time) int {
	if !now.After(lastSeen) {
		return 0
	}
	return int(now.Sub(lastSeen) / (24 * time.Hour))
}

// ShouldBeDeclaredDead reports whether an Active case has passed the threshold.
func ShouldBeDeclaredDead(status Status, daysMissing int) bool {
	return status == Active && daysMissing >= DeclarationThresholdDays
}
