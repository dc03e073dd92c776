package alerting

import (
	"math"
	"strings"
)

// Compare applies a numeric operator. Equality operators compare values
// rounded to one decimal place.
func Compare(operator string, value, threshold float64) bool {
	switch operator {
	case OperatorGreaterThan:
		return value > threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLessThan:
		return value < threshold
	case OperatorLessOrEqual:
		return value <= threshold
	case OperatorEqual:
		return round1(value) == round1(threshold)
	case OperatorNotEqual:
		return round1(value) != round1(threshold)
	default:
		return false
	}
}

// CompareText applies = or != to string values, ignoring case. Ordering
// operators never match text.
func CompareText(operator, value, want string) bool {
	eq := strings.EqualFold(strings.TrimSpace(value), strings.TrimSpace(want))
	switch operator {
	case OperatorEqual:
		return eq
	case OperatorNotEqual:
		return !eq
	default:
		return false
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
