package training

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianml/forecast-backend/internal/automl"
	"github.com/meridianml/forecast-backend/internal/dataset"
	"github.com/meridianml/forecast-backend/internal/domain"
	"github.com/meridianml/forecast-backend/internal/session"
)

// Progress milestones per state. Progress is monotone within a session:
// it only ever moves forward, and a failure freezes it where it was.
const (
	progressInitializing = 0
	progressValidating   = 10
	progressPreparing    = 20
	progressTraining     = 30
	progressCombining    = 80
	progressPredicting   = 90
	progressCompleted    = 100
)

// Orchestrator drives training sessions through their state machine. Every
// transition is persisted through the store before the next stage runs, so
// a crash leaves the last completed stage on record.
type Orchestrator struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	opts     *domain.Configuration
	store    domain.SessionStore
	manager  domain.StrategyManager
	executor domain.BackgroundExecutor
}

func NewOrchestrator(opts *domain.Configuration, store domain.SessionStore, manager domain.StrategyManager, executor domain.BackgroundExecutor) *Orchestrator {
	orchestrator := &Orchestrator{
		opts:     opts,
		store:    store,
		manager:  manager,
		executor: executor,
	}

	atom := zap.NewAtomicLevelAt(zap.InfoLevel)
	if opts.Debug {
		atom = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	orchestrator.logger = zap.New(core, zap.Development())
	orchestrator.sugaredLogger = orchestrator.logger.Sugar()

	return orchestrator
}

// BeginTraining accepts a validated submission: it mints the session id,
// creates the working directory, persists the snapshot and the initial
// status record, and hands the run to the background executor. It returns
// as soon as the task is queued; the caller responds 202 with the id.
func (o *Orchestrator) BeginTraining(params *domain.TrainingParameters, data *dataset.Table, originalFilename string) (string, error) {
	sessionID := uuid.NewString()

	sessionPath, err := o.store.Create(sessionID)
	if err != nil {
		return "", err
	}

	snapshotPath := filepath.Join(sessionPath, session.SnapshotFileName)
	if err := data.WriteFile(snapshotPath); err != nil {
		return "", fmt.Errorf("persisting training snapshot: %w", err)
	}

	record := &domain.StatusRecord{
		SessionID:          sessionID,
		Status:             domain.SessionInitializing,
		Progress:           progressInitializing,
		CreateTime:         time.Now(),
		OriginalFilename:   originalFilename,
		SnapshotPath:       snapshotPath,
		SessionPath:        sessionPath,
		TrainingParameters: params.Clone(),
	}
	if err := o.store.PutStatus(sessionID, record); err != nil {
		return "", err
	}

	if err := o.executor.Submit(sessionID, func() { o.run(sessionID) }); err != nil {
		o.fail(record, err)
		return "", err
	}

	o.logger.Debug("Accepted training session.",
		zap.String("session_id", sessionID),
		zap.String("original_filename", originalFilename),
		zap.Int("num_rows", data.NumRows()))

	return sessionID, nil
}

// run is the background body of one training session.
func (o *Orchestrator) run(sessionID string) {
	record, err := o.store.GetStatus(sessionID)
	if err != nil {
		o.logger.Error("Cannot load record for queued session.",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			o.fail(record, fmt.Errorf("training session panicked: %v", r))
		}
	}()

	if err := o.train(record); err != nil {
		o.fail(record, err)
	}
}

func (o *Orchestrator) train(record *domain.StatusRecord) error {
	params := record.TrainingParameters

	ctx := context.Background()
	if params.TrainingTimeLimit == 0 && o.opts.DefaultTimeLimitSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(o.opts.DefaultTimeLimitSec)*time.Second)
		defer cancel()
	}

	// validating
	if err := o.transition(record, domain.SessionValidating, progressValidating); err != nil {
		return err
	}

	data, err := dataset.ReadFile(record.SnapshotPath)
	if err != nil {
		return fmt.Errorf("reading training snapshot: %w", err)
	}

	validation := dataset.Validate(data, params.DatetimeColumn, params.TargetColumn, params.ItemIDColumn)
	record.Warnings = append(record.Warnings, validation.Warnings...)
	if !validation.Valid {
		return fmt.Errorf("%w: %s", domain.ErrValidationFailed, validation.ErrorMessage())
	}

	// preparing
	if err := o.transition(record, domain.SessionPreparing, progressPreparing); err != nil {
		return err
	}
	data = o.prepare(data, params)

	if len(params.StaticFeatureColumns) > 0 {
		static := data.StaticFeatures(params.ItemIDColumn, params.StaticFeatureColumns)
		staticPath := filepath.Join(record.SessionPath, session.StaticFeaturesFileName)
		if err := static.WriteFile(staticPath); err != nil {
			return fmt.Errorf("persisting static features: %w", err)
		}
	}

	// training
	now := time.Now()
	record.StartTime = &now
	if err := o.transition(record, domain.SessionTraining, progressTraining); err != nil {
		return err
	}

	results := o.manager.RunAll(ctx, data, params, record.SessionPath)
	failures := make([]string, 0)
	for _, result := range results {
		if result.Err != nil {
			failures = append(failures, result.Err.Error())
		}
	}
	if len(failures) == len(results) {
		return fmt.Errorf("%w: %s", domain.ErrAllStrategiesFailed, strings.Join(failures, "; "))
	}
	// Partial failures do not fail the session; they show up as warnings.
	record.Warnings = append(record.Warnings, failures...)

	if err := o.combine(record); err != nil {
		return err
	}

	if params.PredictAfterTraining {
		if err := o.transition(record, domain.SessionPredicting, progressPredicting); err != nil {
			return err
		}
		if err := o.predict(ctx, record, data); err != nil {
			return err
		}
	}

	end := time.Now()
	record.EndTime = &end
	if err := o.transition(record, domain.SessionCompleted, progressCompleted); err != nil {
		return err
	}

	o.logger.Debug("Training session completed.",
		zap.String("session_id", record.SessionID),
		zap.String("best_strategy", record.BestStrategy),
		zap.String("best_model", record.BestModel),
		zap.Duration("time_elapsed", end.Sub(record.CreateTime)))

	return nil
}

// prepare applies the configured missing-value fill. Static feature
// extraction is recorded on the snapshot but not needed by the built-in
// engine.
func (o *Orchestrator) prepare(data *dataset.Table, params *domain.TrainingParameters) *dataset.Table {
	method := strings.ToLower(params.FillMissingMethod)
	if method == "" || method == "none" {
		return data
	}

	groupCols := params.FillGroupColumns
	if groupCols == nil {
		groupCols = []string{params.ItemIDColumn}
	}
	return dataset.FillMissing(data, params.TargetColumn, method, groupCols)
}

// combine merges the per-strategy leaderboards, persists the combined
// leaderboard.csv, and records the winning strategy and model.
func (o *Orchestrator) combine(record *domain.StatusRecord) error {
	combined, err := o.manager.CombineLeaderboards(record.SessionPath)
	if err != nil {
		return err
	}
	if len(combined) == 0 {
		return fmt.Errorf("%w: no strategy produced a leaderboard", domain.ErrNoModelTrained)
	}

	path := filepath.Join(record.SessionPath, automl.LeaderboardFileName)
	if err := automl.WriteLeaderboard(path, combined); err != nil {
		return err
	}

	record.Leaderboard = combined
	record.BestStrategy = combined[0].Strategy
	record.BestModel = combined[0].Model
	return o.transition(record, domain.SessionTraining, progressCombining)
}

// predict produces the session's prediction artifacts with the best
// strategy: the CSV forecast and the xlsx bundle.
func (o *Orchestrator) predict(ctx context.Context, record *domain.StatusRecord, data *dataset.Table) error {
	best, err := o.manager.BestStrategy(record.SessionPath)
	if err != nil {
		return err
	}

	prediction, err := best.Predict(ctx, data, record.TrainingParameters, record.SessionPath)
	if err != nil {
		return err
	}

	csvPath := filepath.Join(record.SessionPath, automl.PredictionCSVName(record.SessionID))
	if err := prediction.WriteFile(csvPath); err != nil {
		return fmt.Errorf("persisting prediction CSV: %w", err)
	}

	weights := automl.LoadEnsembleWeights(record.SessionPath)
	workbookPath := filepath.Join(record.SessionPath, automl.PredictionWorkbookName(record.SessionID))
	if err := automl.WritePredictionWorkbook(workbookPath, prediction, record.Leaderboard, record.TrainingParameters, weights); err != nil {
		return fmt.Errorf("persisting prediction workbook: %w", err)
	}

	o.logger.Debug("Prediction artifacts written.",
		zap.String("session_id", record.SessionID),
		zap.String("strategy", best.Name()),
		zap.Int("num_rows", prediction.NumRows()))

	return nil
}

// Predict runs an on-demand prediction for a previously completed session,
// re-reading its snapshot and re-applying the preparation pipeline the way
// training saw it. It returns the path of the refreshed CSV artifact.
func (o *Orchestrator) Predict(ctx context.Context, sessionID string) (string, error) {
	record, err := o.store.GetStatus(sessionID)
	if err != nil {
		return "", err
	}
	if record.Status != domain.SessionCompleted {
		return "", fmt.Errorf("%w: session %q is %s, not %s",
			domain.ErrNoModelTrained, sessionID, record.Status, domain.SessionCompleted)
	}

	data, err := dataset.ReadFile(record.SnapshotPath)
	if err != nil {
		return "", fmt.Errorf("reading training snapshot: %w", err)
	}
	data = o.prepare(data, record.TrainingParameters)

	if err := o.transition(record, domain.SessionPredicting, record.Progress); err != nil {
		return "", err
	}
	if err := o.predict(ctx, record, data); err != nil {
		// completed is terminal: the model is trained and stays trained. The
		// failure goes back to the caller and into the warnings, never into
		// the session's status.
		record.Warnings = append(record.Warnings, fmt.Sprintf("on-demand prediction failed: %s", err.Error()))
		if restoreErr := o.transition(record, domain.SessionCompleted, progressCompleted); restoreErr != nil {
			o.logger.Error("Failed to restore completed state after prediction failure.",
				zap.String("session_id", sessionID), zap.Error(restoreErr))
		}
		return "", err
	}
	if err := o.transition(record, domain.SessionCompleted, progressCompleted); err != nil {
		return "", err
	}

	return filepath.Join(record.SessionPath, automl.PredictionCSVName(sessionID)), nil
}

// transition moves the record to the given state, enforcing monotone
// progress, and persists it before returning. The caller must not proceed
// to the next stage if persisting failed.
func (o *Orchestrator) transition(record *domain.StatusRecord, status domain.SessionStatus, progress int) error {
	if progress < record.Progress {
		progress = record.Progress
	}
	record.Status = status
	record.Progress = progress

	if err := o.store.PutStatus(record.SessionID, record); err != nil {
		return fmt.Errorf("persisting %s transition: %w", status, err)
	}

	o.logger.Debug("Session transition.",
		zap.String("session_id", record.SessionID),
		zap.String("status", status.String()),
		zap.Int("progress", progress))

	return nil
}

// fail moves the record to the failed terminal state. Progress stays where
// it was; the error text is recorded for the status endpoint.
func (o *Orchestrator) fail(record *domain.StatusRecord, cause error) {
	record.Status = domain.SessionFailed
	record.Error = cause.Error()
	if record.EndTime == nil {
		end := time.Now()
		record.EndTime = &end
	}

	if err := o.store.PutStatus(record.SessionID, record); err != nil {
		o.logger.Error("Failed to persist failure state.",
			zap.String("session_id", record.SessionID), zap.Error(err))
	}

	o.logger.Warn("Training session failed.",
		zap.String("session_id", record.SessionID),
		zap.Error(cause))
}

// RecoverInterrupted fails every session a previous process persisted in a
// non-terminal state. The executor's queue does not survive a restart, so
// such a session will never resume; failing it keeps every session ending
// in a terminal state.
func (o *Orchestrator) RecoverInterrupted() {
	interrupted, err := o.store.InterruptedSessions()
	if err != nil {
		o.logger.Error("Recovery scan failed.", zap.Error(err))
		return
	}

	for _, record := range interrupted {
		o.fail(record, fmt.Errorf("interrupted by a server restart while %s", record.Status))
	}

	if len(interrupted) > 0 {
		o.logger.Info("Failed sessions interrupted by a previous run.",
			zap.Int("num_interrupted", len(interrupted)))
	}
}

// Cleanup removes sessions older than the configured retention window.
func (o *Orchestrator) Cleanup() {
	if o.opts.SessionRetentionDays <= 0 {
		return
	}

	maxAge := time.Duration(o.opts.SessionRetentionDays) * 24 * time.Hour
	removed, err := o.store.Cleanup(maxAge)
	if err != nil {
		o.logger.Error("Retention sweep failed.", zap.Error(err))
		return
	}
	if removed > 0 {
		o.logger.Info("Retention sweep removed expired sessions.",
			zap.Int("removed", removed),
			zap.Int("retention_days", o.opts.SessionRetentionDays))
	}
}
