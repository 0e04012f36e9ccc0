package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValidationResult carries the outcome of the structural checks. Errors
// abort the session before any engine runs; warnings are recorded in the
// session status but do not abort.
type ValidationResult struct {
	Valid    bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *ValidationResult) addError(format string, args ...interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) addWarning(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ErrorMessage joins all errors into the single human-readable reason that
// ends up in the session's failed status.
func (r *ValidationResult) ErrorMessage() string {
	return strings.Join(r.Errors, "; ")
}

// Validate runs the structural checks against the snapshot: the named
// columns must exist, the datetime column must parse, and the target column
// must be numeric. Missing values and outliers produce warnings only.
func Validate(t *Table, datetimeColumn, targetColumn, itemIDColumn string) *ValidationResult {
	result := &ValidationResult{Valid: true}

	var missing []string
	for _, col := range []string{datetimeColumn, targetColumn, itemIDColumn} {
		if !t.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		result.addError("required columns are missing from the dataset: %s", strings.Join(missing, ", "))
		return result
	}

	if t.NumRows() == 0 {
		result.addError("dataset contains no rows")
		return result
	}

	var (
		badTimestamps int
		firstBadTime  string
		missingTimes  int
	)
	for _, rec := range t.Records {
		raw := strings.TrimSpace(rec[datetimeColumn])
		if raw == "" {
			missingTimes++
			continue
		}
		if _, err := ParseTime(raw); err != nil {
			badTimestamps++
			if firstBadTime == "" {
				firstBadTime = raw
			}
		}
	}
	if badTimestamps > 0 {
		result.addError("column %s contains %d unparseable timestamp(s), e.g. %q",
			datetimeColumn, badTimestamps, firstBadTime)
	}
	if missingTimes > 0 {
		result.addWarning("column %s contains %d missing value(s)", datetimeColumn, missingTimes)
	}

	var (
		badTargets    int
		firstBad      string
		missingTarget int
		values        []float64
	)
	for _, rec := range t.Records {
		raw := strings.TrimSpace(rec[targetColumn])
		if raw == "" {
			missingTarget++
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badTargets++
			if firstBad == "" {
				firstBad = raw
			}
			continue
		}
		values = append(values, v)
	}
	if badTargets > 0 {
		result.addError("column %s must contain numeric values: %d non-numeric value(s) found, e.g. %q",
			targetColumn, badTargets, firstBad)
	}
	if missingTarget > 0 {
		result.addWarning("column %s contains %d missing value(s) (%.2f%%)",
			targetColumn, missingTarget, float64(missingTarget)/float64(t.NumRows())*100)
	}

	if result.Valid && len(values) > 3 {
		if outliers := countIQROutliers(values); outliers > 0 {
			result.addWarning("column %s contains %d outlier(s) outside 1.5*IQR (%.2f%%)",
				targetColumn, outliers, float64(outliers)/float64(len(values))*100)
		}
	}

	return result
}

// countIQROutliers counts values outside [Q1-1.5*IQR, Q3+1.5*IQR].
func countIQROutliers(values []float64) int {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lower, upper := q1-1.5*iqr, q3+1.5*iqr

	outliers := 0
	for _, v := range values {
		if v < lower || v > upper {
			outliers++
		}
	}
	return outliers
}

// quantile computes the q-th quantile of sorted values by linear interpolation.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
