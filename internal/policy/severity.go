package policy

import "strings"

// severity levels, least to most urgent
var levels = map[string]int{
	"note":     0,
	"warning":  0,
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// Level returns the numeric urgency of a severity. Unknown severities are
// level 0, for alerts and thresholds alike, so an unrecognized threshold
// accepts everything.
func Level(severity string) int {
	return levels[strings.ToLower(strings.TrimSpace(severity))]
}

// MeetsThreshold reports whether an alert severity is at or above threshold.
func MeetsThreshold(alertSeverity, threshold string) bool {
	return Level(alertSeverity) >= Level(threshold)
}

// KnownSeverities lists every severity with a defined level.
func KnownSeverities() []string {
	return []string{"note", "warning", "low", "medium", "high", "critical"}
}
