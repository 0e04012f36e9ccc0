package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianml/forecast-backend/internal/dataset"
)

// Spec configures one evaluation or forecast run.
type Spec struct {
	// Metric is the normalized evaluation metric name, e.g. "MASE".
	Metric string

	// Horizon is the number of future points to forecast per series.
	Horizon int

	// Frequency is the series frequency identifier ("D", "W", ...), or ""
	// to infer the season length and step from the data.
	Frequency string

	// Models restricts the fit candidates. nil or a "*" entry selects all.
	Models []string

	// Ensemble adds the WeightedEnsemble row to the leaderboard when at
	// least two candidates scored.
	Ensemble bool
}

// ModelScore is one candidate's averaged holdout score. Lower is better.
type ModelScore struct {
	Model string
	Score float64
}

// EvalResult is the outcome of Evaluate: a ranked leaderboard plus the
// ensemble weights derived from the candidate scores.
type EvalResult struct {
	// Leaderboard is sorted by score ascending and includes the
	// WeightedEnsemble row when at least two candidates scored.
	Leaderboard []ModelScore

	// Weights are the WeightedEnsemble member weights, normalized to one.
	Weights map[string]float64
}

type Engine struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger
}

func New(atom *zap.AtomicLevel) *Engine {
	engine := &Engine{}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	engine.logger = zap.New(core, zap.Development())
	engine.sugaredLogger = engine.logger.Sugar()

	return engine
}

// Evaluate fits every selected candidate against each series, scores it on
// a tail holdout, and averages scores across the series. Series too short
// to split are skipped; if every series is too short, Evaluate fails.
func (e *Engine) Evaluate(ctx context.Context, series map[string][]dataset.Point, spec *Spec) (*EvalResult, error) {
	names := resolveModelNames(spec.Models)
	if len(names) == 0 {
		return nil, fmt.Errorf("no known models in requested subset %v", spec.Models)
	}

	seasonLength := seasonLengthFor(spec.Frequency, series)

	sums := make(map[string]float64, len(names))
	counts := make(map[string]int, len(names))

	scored := 0
	for _, id := range sortedSeriesIDs(series) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values := seriesValues(series[id])
		holdout := holdoutLength(len(values), spec.Horizon)
		if holdout == 0 {
			e.logger.Debug("Series too short for a holdout split; skipping.",
				zap.String("item_id", id), zap.Int("num_points", len(values)))
			continue
		}

		train := values[:len(values)-holdout]
		actual := values[len(values)-holdout:]

		for _, name := range names {
			model, err := newForecaster(name, seasonLength)
			if err != nil {
				return nil, err
			}
			predicted := model.Forecast(train, holdout)
			score, err := Score(spec.Metric, actual, predicted, train)
			if err != nil {
				return nil, err
			}
			if math.IsNaN(score) || math.IsInf(score, 0) {
				continue
			}
			sums[name] += score
			counts[name]++
		}
		scored++
	}

	if scored == 0 {
		return nil, fmt.Errorf("no series long enough to evaluate: need more than %d points each", spec.Horizon)
	}

	scores := make(map[string]float64, len(names))
	leaderboard := make([]ModelScore, 0, len(names)+1)
	for _, name := range names {
		if counts[name] == 0 {
			continue
		}
		avg := sums[name] / float64(counts[name])
		scores[name] = avg
		leaderboard = append(leaderboard, ModelScore{Model: name, Score: avg})
	}
	if len(leaderboard) == 0 {
		return nil, fmt.Errorf("no candidate produced a finite %s score", spec.Metric)
	}

	weights := ensembleWeights(scores)
	if spec.Ensemble && len(weights) >= 2 {
		ensembleScore, err := e.scoreEnsemble(ctx, series, spec, weights, seasonLength)
		if err != nil {
			return nil, err
		}
		if !math.IsNaN(ensembleScore) && !math.IsInf(ensembleScore, 0) {
			leaderboard = append(leaderboard, ModelScore{Model: ModelWeightedEnsemble, Score: ensembleScore})
		}
	}

	sort.Slice(leaderboard, func(i, j int) bool {
		if leaderboard[i].Score != leaderboard[j].Score {
			return leaderboard[i].Score < leaderboard[j].Score
		}
		return leaderboard[i].Model < leaderboard[j].Model
	})

	e.logger.Debug("Evaluation complete.",
		zap.String("metric", spec.Metric),
		zap.Int("num_series", scored),
		zap.String("best_model", leaderboard[0].Model),
		zap.Float64("best_score", leaderboard[0].Score))

	return &EvalResult{Leaderboard: leaderboard, Weights: weights}, nil
}

// Forecast produces the horizon forecast for every series using the named
// model. For ModelWeightedEnsemble the weights select and blend the
// members; for any other model the weights are ignored.
func (e *Engine) Forecast(ctx context.Context, series map[string][]dataset.Point, spec *Spec, modelName string, weights map[string]float64) (map[string][]dataset.Point, error) {
	seasonLength := seasonLengthFor(spec.Frequency, series)

	model, err := e.buildModel(modelName, weights, seasonLength)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]dataset.Point, len(series))
	for _, id := range sortedSeriesIDs(series) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		points := series[id]
		if len(points) == 0 {
			continue
		}
		values := seriesValues(points)
		forecast := model.Forecast(values, spec.Horizon)

		step := stepFor(spec.Frequency, points)
		last := points[len(points)-1].Timestamp
		future := make([]dataset.Point, spec.Horizon)
		for i := range future {
			future[i] = dataset.Point{
				Timestamp: last.Add(step * time.Duration(i+1)),
				Value:     forecast[i],
			}
		}
		out[id] = future
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no series available to forecast")
	}
	return out, nil
}

func (e *Engine) buildModel(modelName string, weights map[string]float64, seasonLength int) (forecaster, error) {
	if modelName != ModelWeightedEnsemble {
		return newForecaster(modelName, seasonLength)
	}

	members := make(map[string]forecaster, len(weights))
	for name := range weights {
		member, err := newForecaster(name, seasonLength)
		if err != nil {
			return nil, err
		}
		members[name] = member
	}
	return weightedEnsemble{members: members, weights: weights}, nil
}

// scoreEnsemble evaluates the composed ensemble on the same holdout split
// used for the candidates so its leaderboard row is comparable.
func (e *Engine) scoreEnsemble(ctx context.Context, series map[string][]dataset.Point, spec *Spec, weights map[string]float64, seasonLength int) (float64, error) {
	model, err := e.buildModel(ModelWeightedEnsemble, weights, seasonLength)
	if err != nil {
		return 0, err
	}

	sum := 0.0
	n := 0
	for _, id := range sortedSeriesIDs(series) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		values := seriesValues(series[id])
		holdout := holdoutLength(len(values), spec.Horizon)
		if holdout == 0 {
			continue
		}

		train := values[:len(values)-holdout]
		actual := values[len(values)-holdout:]
		predicted := model.Forecast(train, holdout)
		score, err := Score(spec.Metric, actual, predicted, train)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		sum += score
		n++
	}
	if n == 0 {
		return math.Inf(1), nil
	}
	return sum / float64(n), nil
}

// holdoutLength picks the evaluation tail: the requested horizon, capped at
// a third of the series so at least two thirds remain for fitting. Series
// with fewer than three points cannot be split.
func holdoutLength(numPoints, horizon int) int {
	if numPoints < 3 {
		return 0
	}
	h := horizon
	if max := numPoints / 3; h > max {
		h = max
	}
	if h < 1 {
		h = 1
	}
	return h
}

func seriesValues(points []dataset.Point) []float64 {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	return values
}

func sortedSeriesIDs(series map[string][]dataset.Point) []string {
	ids := make([]string, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var frequencySeasons = map[string]int{
	"H": 24,
	"D": 7,
	"W": 52,
	"M": 12,
	"Q": 4,
	"Y": 1,
}

var frequencySteps = map[string]time.Duration{
	"H": time.Hour,
	"D": 24 * time.Hour,
	"W": 7 * 24 * time.Hour,
	"M": 30 * 24 * time.Hour,
	"Q": 91 * 24 * time.Hour,
	"Y": 365 * 24 * time.Hour,
}

// seasonLengthFor maps a known frequency to its season length, or infers
// it from the median step of the data when the frequency is unknown.
func seasonLengthFor(frequency string, series map[string][]dataset.Point) int {
	if n, ok := frequencySeasons[frequency]; ok {
		return n
	}

	step := medianStep(series)
	switch {
	case step == 0:
		return 1
	case step <= time.Hour:
		return 24
	case step <= 24*time.Hour:
		return 7
	case step <= 7*24*time.Hour:
		return 52
	case step <= 31*24*time.Hour:
		return 12
	case step <= 92*24*time.Hour:
		return 4
	default:
		return 1
	}
}

// stepFor returns the timestamp increment for future points: the known
// frequency step, or the series' own median step as a fallback.
func stepFor(frequency string, points []dataset.Point) time.Duration {
	if step, ok := frequencySteps[frequency]; ok {
		return step
	}

	deltas := make([]time.Duration, 0, len(points))
	for i := 1; i < len(points); i++ {
		deltas = append(deltas, points[i].Timestamp.Sub(points[i-1].Timestamp))
	}
	if len(deltas) == 0 {
		return 24 * time.Hour
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	return deltas[len(deltas)/2]
}

func medianStep(series map[string][]dataset.Point) time.Duration {
	deltas := make([]time.Duration, 0)
	for _, points := range series {
		for i := 1; i < len(points); i++ {
			deltas = append(deltas, points[i].Timestamp.Sub(points[i-1].Timestamp))
		}
	}
	if len(deltas) == 0 {
		return 0
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	return deltas[len(deltas)/2]
}
