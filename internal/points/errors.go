package points

import "fmt"

// ReasonCode classifies the outcome of a calculation
type ReasonCode string

const (
	StatusOK                  ReasonCode = "ok"
	StatusExerciseNotFound    ReasonCode = "exercise_not_found"
	StatusExerciseDisabled    ReasonCode = "exercise_disabled"
	StatusInvalidActivity     ReasonCode = "invalid_activity"
	StatusRegistryUnavailable ReasonCode = "registry_unavailable"
)

// IsConfiguration reports whether the code means something is misconfigured
// rather than the activity being wrong.
func (c ReasonCode) IsConfiguration() bool {
	switch c {
	case StatusExerciseNotFound, StatusExerciseDisabled, StatusRegistryUnavailable:
		return true
	}
	return false
}

// ValidationError rejects an activity whose metrics or time range can't be
// right.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid activity: %s %s", e.Field, e.Reason)
}

// ConfigurationError reports a missing or unusable registry entry.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}
