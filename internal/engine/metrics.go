package engine

import (
	"fmt"
	"math"
)

// Score computes the named evaluation metric over a holdout. insample is
// the training portion of the series; only MASE consumes it, for the naive
// error scale. Lower is always better.
func Score(metric string, actual, predicted, insample []float64) (float64, error) {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0, fmt.Errorf("mismatched holdout lengths: %d actual, %d predicted", len(actual), len(predicted))
	}

	switch metric {
	case "MAE":
		return mae(actual, predicted), nil
	case "RMSE":
		return rmse(actual, predicted), nil
	case "MAPE":
		return mape(actual, predicted), nil
	case "SMAPE":
		return smape(actual, predicted), nil
	case "WAPE":
		return wape(actual, predicted), nil
	case "MASE":
		return mase(actual, predicted, insample), nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

func mae(actual, predicted []float64) float64 {
	sum := 0.0
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}

func rmse(actual, predicted []float64) float64 {
	sum := 0.0
	for i := range actual {
		d := actual[i] - predicted[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(actual)))
}

// mape skips zero actuals rather than dividing by them. All-zero holdouts
// score as +Inf so they rank last instead of best.
func mape(actual, predicted []float64) float64 {
	sum := 0.0
	n := 0
	for i := range actual {
		if actual[i] == 0 {
			continue
		}
		sum += math.Abs((actual[i] - predicted[i]) / actual[i])
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}

func smape(actual, predicted []float64) float64 {
	sum := 0.0
	n := 0
	for i := range actual {
		denom := (math.Abs(actual[i]) + math.Abs(predicted[i])) / 2
		if denom == 0 {
			continue
		}
		sum += math.Abs(actual[i]-predicted[i]) / denom
		n++
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}

func wape(actual, predicted []float64) float64 {
	num := 0.0
	denom := 0.0
	for i := range actual {
		num += math.Abs(actual[i] - predicted[i])
		denom += math.Abs(actual[i])
	}
	if denom == 0 {
		return math.Inf(1)
	}
	return num / denom
}

// mase scales the holdout MAE by the in-sample one-step naive error. A flat
// in-sample series has no naive error scale and yields +Inf.
func mase(actual, predicted, insample []float64) float64 {
	if len(insample) < 2 {
		return math.Inf(1)
	}
	naiveErr := 0.0
	for i := 1; i < len(insample); i++ {
		naiveErr += math.Abs(insample[i] - insample[i-1])
	}
	naiveErr /= float64(len(insample) - 1)
	if naiveErr == 0 {
		return math.Inf(1)
	}
	return mae(actual, predicted) / naiveErr
}
