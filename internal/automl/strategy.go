package automl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianml/forecast-backend/internal/dataset"
	"github.com/meridianml/forecast-backend/internal/domain"
	"github.com/meridianml/forecast-backend/internal/engine"
)

// Registered strategy names; these double as subdirectory names under the
// session path.
const (
	StrategyEnsemble  = "ensemble"
	StrategyClassical = "classical"
)

// PredictionColumn is the forecast value column of prediction tables.
const PredictionColumn = "prediction"

// predictionTimeLayout formats forecast timestamps in prediction artifacts.
const predictionTimeLayout = "2006-01-02 15:04:05"

// engineStrategy adapts the built-in engine to the Strategy contract. The
// ensemble variant searches all requested models and composes a weighted
// ensemble; the classical variant ranks the per-series baselines alone.
type engineStrategy struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	name     string
	engine   *engine.Engine
	ensemble bool

	// subset picks the requested model names out of the parameters.
	subset func(params *domain.TrainingParameters) []string
}

// NewEnsembleStrategy builds the ensemble-search strategy, which evaluates
// the requested candidates and adds a weighted ensemble over them.
func NewEnsembleStrategy(eng *engine.Engine, atom *zap.AtomicLevel) domain.Strategy {
	return newEngineStrategy(StrategyEnsemble, eng, true, atom,
		func(params *domain.TrainingParameters) []string { return params.ModelsToTrain })
}

// NewClassicalStrategy builds the per-series classical strategy, which
// ranks the individual baselines without composing an ensemble.
func NewClassicalStrategy(eng *engine.Engine, atom *zap.AtomicLevel) domain.Strategy {
	return newEngineStrategy(StrategyClassical, eng, false, atom,
		func(params *domain.TrainingParameters) []string { return params.ClassicalModels })
}

func newEngineStrategy(name string, eng *engine.Engine, ensemble bool, atom *zap.AtomicLevel, subset func(*domain.TrainingParameters) []string) *engineStrategy {
	strategy := &engineStrategy{
		name:     name,
		engine:   eng,
		ensemble: ensemble,
		subset:   subset,
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	strategy.logger = zap.New(core, zap.Development())
	strategy.sugaredLogger = strategy.logger.Sugar()

	return strategy
}

func (s *engineStrategy) Name() string { return s.name }

func (s *engineStrategy) spec(params *domain.TrainingParameters) *engine.Spec {
	models := s.subset(params)
	if domain.WantsAllModels(models) {
		models = nil
	}
	return &engine.Spec{
		Metric:    params.MetricName(),
		Horizon:   params.PredictionLength,
		Frequency: params.FrequencyName(),
		Models:    models,
		Ensemble:  s.ensemble,
	}
}

// Train evaluates the candidates on the prepared data and persists the
// strategy's leaderboard, model metadata, and engine artifact under its
// subdirectory. All writes are temp-then-rename, so re-training replaces
// artifacts atomically.
func (s *engineStrategy) Train(ctx context.Context, data *dataset.Table, params *domain.TrainingParameters, sessionPath string) error {
	started := time.Now()
	series := data.Series(params.ItemIDColumn, params.DatetimeColumn, params.TargetColumn)
	if len(series) == 0 {
		return fmt.Errorf("no usable series in training data")
	}

	spec := s.spec(params)
	result, err := s.engine.Evaluate(ctx, series, spec)
	if err != nil {
		return err
	}

	strategyDir := filepath.Join(sessionPath, s.name)
	if err := os.MkdirAll(strategyDir, 0o755); err != nil {
		return fmt.Errorf("creating strategy directory %q: %w", strategyDir, err)
	}

	rows := make([]strategyLeaderboardRow, 0, len(result.Leaderboard))
	for _, score := range result.Leaderboard {
		rows = append(rows, strategyLeaderboardRow{Model: score.Model, Score: score.Score})
	}
	if err := writeStrategyLeaderboard(filepath.Join(strategyDir, LeaderboardFileName), rows); err != nil {
		return err
	}

	best := result.Leaderboard[0]
	weights := result.Weights
	if !s.ensemble {
		weights = nil
	}

	artifact := &modelArtifact{
		Strategy:  s.name,
		BestModel: best.Model,
		Metric:    spec.Metric,
		Frequency: spec.Frequency,
		Horizon:   spec.Horizon,
		Weights:   weights,
		TrainedAt: time.Now(),
	}
	if err := writeJSONAtomic(filepath.Join(strategyDir, ModelArtifactFileName), artifact); err != nil {
		return err
	}

	metadata := &modelMetadata{
		Strategy:  s.name,
		BestModel: best.Model,
		BestScore: best.Score,
		Metric:    spec.Metric,
		NumModels: len(result.Leaderboard),
		Weights:   weights,
		TrainedAt: artifact.TrainedAt,
	}
	if err := writeJSONAtomic(filepath.Join(strategyDir, ModelMetadataFileName), metadata); err != nil {
		return err
	}

	s.logger.Debug("Strategy training complete.",
		zap.String("strategy", s.name),
		zap.String("best_model", best.Model),
		zap.Float64("best_score", best.Score),
		zap.Duration("time_elapsed", time.Since(started)))

	return nil
}

// Predict rebuilds the persisted best model and forecasts the horizon for
// every series in the data. The data is typically the session's training
// snapshot, re-read and re-filled the same way training saw it.
func (s *engineStrategy) Predict(ctx context.Context, data *dataset.Table, params *domain.TrainingParameters, sessionPath string) (*dataset.Table, error) {
	artifact, err := loadArtifact(sessionPath, s.name)
	if err != nil {
		return nil, err
	}

	series := data.Series(params.ItemIDColumn, params.DatetimeColumn, params.TargetColumn)
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: no usable series in prediction input", domain.ErrPredictionFailed)
	}

	spec := &engine.Spec{
		Metric:    artifact.Metric,
		Horizon:   artifact.Horizon,
		Frequency: artifact.Frequency,
	}
	forecasts, err := s.engine.Forecast(ctx, series, spec, artifact.BestModel, artifact.Weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPredictionFailed, err.Error())
	}

	out := dataset.NewTable(params.ItemIDColumn, params.DatetimeColumn, PredictionColumn)
	for _, id := range data.ItemIDs(params.ItemIDColumn) {
		for _, point := range forecasts[id] {
			out.Append(map[string]string{
				params.ItemIDColumn:   id,
				params.DatetimeColumn: point.Timestamp.Format(predictionTimeLayout),
				PredictionColumn:      fmt.Sprintf("%g", point.Value),
			})
		}
	}

	s.logger.Debug("Prediction complete.",
		zap.String("strategy", s.name),
		zap.String("model", artifact.BestModel),
		zap.Int("num_rows", out.NumRows()))

	return out, nil
}
