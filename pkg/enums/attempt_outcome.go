package enums

import "fmt"

// AttemptOutcome is the tri-state result recorded on a retry attempt row.
// An attempt starts as pending and is flipped exactly once when the engine
// observes the result.
type AttemptOutcome string

const (
	AttemptOutcomePending   AttemptOutcome = "pending"
	AttemptOutcomeSucceeded AttemptOutcome = "succeeded"
	AttemptOutcomeFailed    AttemptOutcome = "failed"
)

var validAttemptOutcomes = []AttemptOutcome{
	AttemptOutcomePending,
	AttemptOutcomeSucceeded,
	AttemptOutcomeFailed,
}

// String implements fmt.Stringer.
func (a AttemptOutcome) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AttemptOutcome.
func (a AttemptOutcome) IsValid() bool {
	for _, candidate := range validAttemptOutcomes {
		if candidate == a {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the outcome has been resolved.
func (a AttemptOutcome) IsTerminal() bool {
	return a == AttemptOutcomeSucceeded || a == AttemptOutcomeFailed
}

// ParseAttemptOutcome converts raw input into an AttemptOutcome.
func ParseAttemptOutcome(value string) (AttemptOutcome, error) {
	for _, candidate := range validAttemptOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid attempt outcome %q", value)
}
