package repository

// Period is the bar size requested from the market-data source.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// IsValidPeriod returns true if p is a supported period.
func IsValidPeriod(p Period) bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return true
	default:
		return false
	}
}

// DefaultPeriod returns the default period.
func DefaultPeriod() Period { return PeriodDay }
