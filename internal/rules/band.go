package rules

import (
	"math"

	"github.com/opensource-finance/heron/internal/domain"
)

// Classify grades v against a soft/hard band.
// Exceeding Hard is strong, exceeding only Soft is weak; bounds themselves do not trigger.
func Classify(b domain.Band, v float64) (domain.Severity, bool) {
	switch {
	case v > b.Hard:
		return domain.SeverityStrong, true
	case v > b.Soft:
		return domain.SeverityWeak, true
	default:
		return 0, false
	}
}

// ClassifyAtLeast is Classify with inclusive bounds, for "N or more" rules.
func ClassifyAtLeast(b domain.Band, v float64) (domain.Severity, bool) {
	switch {
	case v >= b.Hard:
		return domain.SeverityStrong, true
	case v >= b.Soft:
		return domain.SeverityWeak, true
	default:
		return 0, false
	}
}

// ValidateBand checks that a band is finite, non-negative and ordered.
func ValidateBand(param string, b domain.Band) error {
	if math.IsNaN(b.Soft) || math.IsNaN(b.Hard) || math.IsInf(b.Soft, 0) || math.IsInf(b.Hard, 0) {
		return domain.Misconfigured(param, "bounds must be finite")
	}
	if b.Soft < 0 {
		return domain.Misconfigured(param+".soft", "must not be negative, got %g", b.Soft)
	}
	if b.Hard < b.Soft {
		return domain.Misconfigured(param+".hard", "must not be below soft bound %g, got %g", b.Soft, b.Hard)
	}
	return nil
}
