package domain

import (
	"context"
	"time"

	"github.com/meridianml/forecast-backend/internal/dataset"
)

// Strategy is a pluggable adapter around one external forecasting engine.
// Each strategy owns the subdirectory sessionPath/<Name()> and must never
// touch another strategy's subdirectory.
type Strategy interface {
	// Name identifies the strategy. It doubles as the subdirectory name and
	// as the tag on combined leaderboard rows.
	Name() string

	// Train runs the engine against the prepared data, honoring the ctx
	// deadline, and persists the strategy's leaderboard and model metadata
	// under its subdirectory before returning. Train is blocking and
	// potentially long-running.
	Train(ctx context.Context, data *dataset.Table, params *TrainingParameters, sessionPath string) error

	// Predict loads the artifacts persisted by an earlier Train call and
	// produces a forecast table. It returns ErrModelNotFound when the
	// strategy's subdirectory or artifacts are absent, and an error wrapping
	// ErrPredictionFailed when the engine itself fails.
	Predict(ctx context.Context, data *dataset.Table, params *TrainingParameters, sessionPath string) (*dataset.Table, error)
}

// StrategyResult is the first-class outcome of one strategy's training run.
// A nil Err means the strategy trained and persisted its leaderboard.
type StrategyResult struct {
	Strategy string
	Err      error
}

// StrategyManager owns the injected strategy set, runs the strategies for a
// session with per-strategy failure isolation, and merges their persisted
// leaderboards into one ranked table.
type StrategyManager interface {
	// Strategies returns the registered strategies in registration order.
	Strategies() []Strategy

	// RunAll trains every registered strategy sequentially against the data,
	// isolating failures: one strategy's error is captured in its result and
	// does not prevent the remaining strategies from running.
	RunAll(ctx context.Context, data *dataset.Table, params *TrainingParameters, sessionPath string) []StrategyResult

	// CombineLeaderboards re-reads each strategy's persisted leaderboard file
	// (missing files mean "that strategy produced nothing"), tags every row
	// with its originating strategy, and returns the union sorted by score
	// ascending. It is a pure projection over the on-disk files.
	CombineLeaderboards(sessionPath string) ([]LeaderboardRow, error)

	// BestStrategy resolves the strategy that produced the top row of the
	// session's combined leaderboard, or ErrNoModelTrained if the combined
	// leaderboard is empty.
	BestStrategy(sessionPath string) (Strategy, error)
}

// SessionStore is the durable keyed state for training sessions: an
// in-memory cache mirrored to per-session metadata.json files.
type SessionStore interface {
	// Create makes the isolated working directory for a new session and
	// returns its path. It fails with ErrSessionExists on collision.
	Create(sessionID string) (string, error)

	// SessionPath returns the working directory for the given session id.
	// It does not check existence.
	SessionPath(sessionID string) string

	// PutStatus atomically updates the in-memory cache and rewrites the
	// session's metadata.json (write-to-temp-then-rename).
	PutStatus(sessionID string, record *StatusRecord) error

	// GetStatus returns the current status record, falling back to the
	// on-disk copy (and repopulating the cache) after a restart. It returns
	// ErrSessionNotFound for unknown ids.
	GetStatus(sessionID string) (*StatusRecord, error)

	// ActiveSessions returns clones of every cached record that is not in a
	// terminal state.
	ActiveSessions() []*StatusRecord

	// InterruptedSessions loads every persisted record that is still in a
	// non-terminal state, repopulating the cache. At startup these are
	// sessions a previous process left mid-run; they will never resume.
	InterruptedSessions() ([]*StatusRecord, error)

	// Cleanup removes session directories whose recorded creation time is
	// older than maxAge and returns how many were removed. Sessions whose
	// age cannot be determined are left for manual inspection.
	Cleanup(maxAge time.Duration) (int, error)
}

// BackgroundExecutor decouples session orchestration from the
// request/response path: Submit returns immediately and the task runs on a
// worker pool. No ordering is guaranteed between different sessions' tasks.
type BackgroundExecutor interface {
	Submit(sessionID string, task func()) error
	Shutdown()
}
