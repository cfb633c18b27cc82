package models

// Severity levels in escalation order.
const (
	SeverityInfo     = "INFO"
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// LevelDefault is the log level assigned when the producer omits one.
const LevelDefault = "INFO"

var severityRanks = map[string]int{
	SeverityInfo:     10,
	SeverityLow:      20,
	SeverityMedium:   30,
	SeverityHigh:     40,
	SeverityCritical: 50,
}

// SeverityRank returns the numeric rank of a severity level.
// Unknown or empty severities rank 0, below INFO.
func SeverityRank(s string) int {
	return severityRanks[s]
}

// MaxSeverity returns the higher-ranked of two severity levels.
func MaxSeverity(a, b string) string {
	if SeverityRank(b) > SeverityRank(a) {
		return b
	}
	return a
}
