package automl

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"time"

	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianml/forecast-backend/internal/dataset"
	"github.com/meridianml/forecast-backend/internal/domain"
)

// Manager runs an injected set of strategies with per-strategy failure
// isolation and merges their persisted leaderboards. It holds no global
// state: everything it reads back comes from the session path.
type Manager struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	strategies []domain.Strategy
}

// NewManager builds a manager over the given strategies. The registration
// order is the run order.
func NewManager(atom *zap.AtomicLevel, strategies ...domain.Strategy) *Manager {
	manager := &Manager{
		strategies: strategies,
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	manager.logger = zap.New(core, zap.Development())
	manager.sugaredLogger = manager.logger.Sugar()

	return manager
}

// Strategies returns the registered strategies in registration order.
func (m *Manager) Strategies() []domain.Strategy {
	return m.strategies
}

// RunAll trains every strategy sequentially. One strategy failing, or even
// panicking, never prevents the remaining strategies from running; each
// outcome is returned as a tagged result. When the parameters carry a time
// limit, every strategy receives the full budget: a slow first strategy
// must not starve the ones after it.
func (m *Manager) RunAll(ctx context.Context, data *dataset.Table, params *domain.TrainingParameters, sessionPath string) []domain.StrategyResult {
	results := make([]domain.StrategyResult, 0, len(m.strategies))
	for _, strategy := range m.strategies {
		started := time.Now()
		err := m.runOne(ctx, strategy, data, params, sessionPath)

		if err != nil {
			err = fmt.Errorf("%w: strategy %q: %w", domain.ErrStrategyFailed, strategy.Name(), err)
			m.logger.Warn("Strategy failed; continuing with the remaining strategies.",
				zap.String("strategy", strategy.Name()),
				zap.Duration("time_elapsed", time.Since(started)),
				zap.Error(err))
		} else {
			m.logger.Debug("Strategy succeeded.",
				zap.String("strategy", strategy.Name()),
				zap.Duration("time_elapsed", time.Since(started)))
		}

		results = append(results, domain.StrategyResult{Strategy: strategy.Name(), Err: err})
	}

	return results
}

// runOne isolates a single strategy run, converting a panic inside the
// strategy into an ordinary error and bounding the run with its own
// wall-clock deadline when the parameters carry a time limit.
func (m *Manager) runOne(ctx context.Context, strategy domain.Strategy, data *dataset.Table, params *domain.TrainingParameters, sessionPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panicked: %v", r)
		}
	}()

	if params.TrainingTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.TrainingTimeLimit)*time.Second)
		defer cancel()
	}

	return strategy.Train(ctx, data, params, sessionPath)
}

// CombineLeaderboards re-reads each strategy's persisted leaderboard file,
// tags every row with its strategy, and returns the union sorted by score
// ascending. A strategy with no leaderboard file contributes nothing. The
// method is a pure projection: calling it twice yields the same result.
func (m *Manager) CombineLeaderboards(sessionPath string) ([]domain.LeaderboardRow, error) {
	combined := make([]domain.LeaderboardRow, 0)
	for _, strategy := range m.strategies {
		path := filepath.Join(sessionPath, strategy.Name(), LeaderboardFileName)
		rows, err := readStrategyLeaderboard(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, row := range rows {
			combined = append(combined, domain.LeaderboardRow{
				Model:    row.Model,
				Score:    row.Score,
				Strategy: strategy.Name(),
			})
		}
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Score < combined[j].Score
	})

	return combined, nil
}

// BestStrategy resolves the strategy behind the top row of the combined
// leaderboard. With no leaderboard rows at all there is no trained model,
// which is ErrNoModelTrained.
func (m *Manager) BestStrategy(sessionPath string) (domain.Strategy, error) {
	combined, err := m.CombineLeaderboards(sessionPath)
	if err != nil {
		return nil, err
	}
	if len(combined) == 0 {
		return nil, fmt.Errorf("%w: session at %q has an empty combined leaderboard", domain.ErrNoModelTrained, sessionPath)
	}

	name := combined[0].Strategy
	for _, strategy := range m.strategies {
		if strategy.Name() == name {
			return strategy, nil
		}
	}
	return nil, fmt.Errorf("leaderboard names strategy %q, which is not registered", name)
}
