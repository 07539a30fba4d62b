package lifecycle

import "time"

// Message classifications and how long each is retained before soft-deletion.
const (
	ClassificationRoutine    = "routine"
	ClassificationSensitive  = "sensitive"
	ClassificationClassified = "classified"
)

const (
	routineTTL    = 30 * 24 * time.Hour
	sensitiveTTL  = 7 * 24 * time.Hour
	classifiedTTL = 3 * 24 * time.Hour
)

// RetentionFor maps a classification to its lifetime. Anything unrecognized
// (including the empty string) is treated as routine.
func RetentionFor(classification string) time.Duration {
	switch classification {
	case ClassificationSensitive:
		return sensitiveTTL
	case ClassificationClassified:
		return classifiedTTL
	default:
		return routineTTL
	}
}

// ExpirationDate computes the expires_at stamp stored with a message at
// creation time. It is never recomputed afterwards.
func ExpirationDate(classification string, now time.Time) time.Time {
	return now.Add(RetentionFor(classification))
}
