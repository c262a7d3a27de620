// Package policy implements local mempool policy checks and address safety
// analysis: dust/fee violations, deep address sanitization, and address
// poisoning/similarity detection.
package policy

import "fmt"

// Severity of a policy violation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Violation is one local mempool policy finding.
type Violation struct {
	Code     string
	Severity Severity
	Message  string
}

const (
	// DustThreshold is the minimum economical output value in satoshis.
	DustThreshold int64 = 547

	// MinFeeRate is the minimum accepted fee rate in sat/vB.
	MinFeeRate int64 = 1

	// MaxFeeRate is the fee rate above which FEE_RATE_HIGH warns.
	MaxFeeRate int64 = 500

	// FeeRatioWarnThreshold is the fee/output ratio above which
	// FEE_RATIO_HIGH warns.
	FeeRatioWarnThreshold = 0.5
)

// CheckInput bundles the values a transaction policy check needs.
type CheckInput struct {
	OutputValues []int64
	FeeRate      int64
	Fee          int64
	TotalInput   int64
	TotalOutput  int64
}

// Check runs every §4.10 local policy rule against a candidate transaction
// and returns the full violation list (both errors and warnings).
func Check(in CheckInput) []Violation {
	var violations []Violation

	for _, v := range in.OutputValues {
		if v < DustThreshold {
			violations = append(violations, Violation{
				Code:     "DUST_OUTPUT",
				Severity: SeverityError,
				Message:  fmt.Sprintf("output value %d is below the dust threshold of %d", v, DustThreshold),
			})
		}
	}

	if in.FeeRate < MinFeeRate {
		violations = append(violations, Violation{
			Code:     "FEE_TOO_LOW",
			Severity: SeverityError,
			Message:  fmt.Sprintf("fee rate %d sat/vB is below the minimum of %d", in.FeeRate, MinFeeRate),
		})
	} else if in.FeeRate > MaxFeeRate {
		violations = append(violations, Violation{
			Code:     "FEE_RATE_HIGH",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("fee rate %d sat/vB exceeds %d, double-check before sending", in.FeeRate, MaxFeeRate),
		})
	}

	if in.TotalOutput > 0 && float64(in.Fee)/float64(in.TotalOutput) > FeeRatioWarnThreshold {
		violations = append(violations, Violation{
			Code:     "FEE_RATIO_HIGH",
			Severity: SeverityWarning,
			Message:  "fee exceeds 50% of total output value",
		})
	}

	if in.TotalOutput+in.Fee > in.TotalInput {
		violations = append(violations, Violation{
			Code:     "OUTPUT_EXCEEDS_INPUT",
			Severity: SeverityError,
			Message:  "outputs plus fee exceed total input value",
		})
	}

	if in.Fee < 0 {
		violations = append(violations, Violation{
			Code:     "NEGATIVE_FEE",
			Severity: SeverityError,
			Message:  "computed fee is negative",
		})
	}

	return violations
}

// HasErrors reports whether violations contains any error-severity entry;
// only errors block finalize, warnings are non-blocking per §7.
func HasErrors(violations []Violation) bool {
	for _, v := range violations {
		if v.Severity == SeverityError {
			return true
		}
	}
	return false
}
