// Package engine is the built-in forecasting core. It fits a set of
// candidate forecasters per series, scores them on a holdout split, and
// composes forecasts, including a weighted ensemble over the candidates.
// Strategies wrap this package and own the artifact layout on disk.
package engine

import (
	"fmt"
	"math"
	"strings"
)

// Candidate model names in evaluation order.
const (
	ModelNaive         = "Naive"
	ModelSeasonalNaive = "SeasonalNaive"
	ModelDrift         = "Drift"
	ModelMean          = "Mean"
	ModelWindowAverage = "WindowAverage"

	// ModelWeightedEnsemble is the composed model, never a fit candidate.
	ModelWeightedEnsemble = "WeightedEnsemble"
)

// windowSize is the tail window of the WindowAverage candidate.
const windowSize = 4

// forecaster produces a point forecast of the given horizon from an
// in-order series of observed values.
type forecaster interface {
	Name() string
	Forecast(values []float64, horizon int) []float64
}

type naive struct{}

func (naive) Name() string { return ModelNaive }

func (naive) Forecast(values []float64, horizon int) []float64 {
	last := values[len(values)-1]
	out := make([]float64, horizon)
	for i := range out {
		out[i] = last
	}
	return out
}

type seasonalNaive struct {
	seasonLength int
}

func (seasonalNaive) Name() string { return ModelSeasonalNaive }

// Forecast repeats the last full season. Series shorter than one season
// fall back to the plain naive forecast.
func (m seasonalNaive) Forecast(values []float64, horizon int) []float64 {
	if m.seasonLength < 2 || len(values) < m.seasonLength {
		return naive{}.Forecast(values, horizon)
	}
	season := values[len(values)-m.seasonLength:]
	out := make([]float64, horizon)
	for i := range out {
		out[i] = season[i%m.seasonLength]
	}
	return out
}

type drift struct{}

func (drift) Name() string { return ModelDrift }

func (drift) Forecast(values []float64, horizon int) []float64 {
	last := values[len(values)-1]
	slope := 0.0
	if len(values) > 1 {
		slope = (last - values[0]) / float64(len(values)-1)
	}
	out := make([]float64, horizon)
	for i := range out {
		out[i] = last + slope*float64(i+1)
	}
	return out
}

type mean struct{}

func (mean) Name() string { return ModelMean }

func (mean) Forecast(values []float64, horizon int) []float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	out := make([]float64, horizon)
	for i := range out {
		out[i] = avg
	}
	return out
}

type windowAverage struct {
	window int
}

func (windowAverage) Name() string { return ModelWindowAverage }

func (m windowAverage) Forecast(values []float64, horizon int) []float64 {
	w := m.window
	if w < 1 {
		w = windowSize
	}
	if w > len(values) {
		w = len(values)
	}
	sum := 0.0
	for _, v := range values[len(values)-w:] {
		sum += v
	}
	avg := sum / float64(w)
	out := make([]float64, horizon)
	for i := range out {
		out[i] = avg
	}
	return out
}

// weightedEnsemble averages member forecasts using normalized weights.
type weightedEnsemble struct {
	members map[string]forecaster
	weights map[string]float64
}

func (weightedEnsemble) Name() string { return ModelWeightedEnsemble }

func (m weightedEnsemble) Forecast(values []float64, horizon int) []float64 {
	out := make([]float64, horizon)
	total := 0.0
	for name, weight := range m.weights {
		member, ok := m.members[name]
		if !ok || weight <= 0 {
			continue
		}
		forecast := member.Forecast(values, horizon)
		for i := range out {
			out[i] += weight * forecast[i]
		}
		total += weight
	}
	if total == 0 {
		return naive{}.Forecast(values, horizon)
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// AllModelNames lists every fit candidate in evaluation order.
func AllModelNames() []string {
	return []string{ModelNaive, ModelSeasonalNaive, ModelDrift, ModelMean, ModelWindowAverage}
}

// newForecaster constructs the named candidate. Unknown names are the
// caller's bug.
func newForecaster(name string, seasonLength int) (forecaster, error) {
	switch name {
	case ModelNaive:
		return naive{}, nil
	case ModelSeasonalNaive:
		return seasonalNaive{seasonLength: seasonLength}, nil
	case ModelDrift:
		return drift{}, nil
	case ModelMean:
		return mean{}, nil
	case ModelWindowAverage:
		return windowAverage{window: windowSize}, nil
	default:
		return nil, fmt.Errorf("unknown model %q", name)
	}
}

// resolveModelNames maps a requested subset onto the known candidates,
// preserving evaluation order and tolerating case differences. A nil or
// "*"-bearing subset selects every candidate.
func resolveModelNames(subset []string) []string {
	all := AllModelNames()
	if subset == nil {
		return all
	}

	requested := make(map[string]struct{}, len(subset))
	wantAll := false
	for _, name := range subset {
		if name == "*" {
			wantAll = true
		}
		requested[strings.ToLower(name)] = struct{}{}
	}
	if wantAll {
		return all
	}

	selected := make([]string, 0, len(all))
	for _, name := range all {
		if _, ok := requested[strings.ToLower(name)]; ok {
			selected = append(selected, name)
		}
	}
	return selected
}

// ensembleWeights derives member weights from holdout scores: inverse error,
// normalized to sum to one. Non-finite or non-positive errors get a small
// floor so a perfect candidate cannot monopolize the ensemble.
func ensembleWeights(scores map[string]float64) map[string]float64 {
	const floor = 1e-9

	weights := make(map[string]float64, len(scores))
	total := 0.0
	for name, score := range scores {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		if score < floor {
			score = floor
		}
		w := 1.0 / score
		weights[name] = w
		total += w
	}
	if total == 0 {
		return map[string]float64{}
	}
	for name := range weights {
		weights[name] /= total
	}
	return weights
}
