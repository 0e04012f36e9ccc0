package domain

import (
	"encoding/json"
	"time"
)

const (
	// SessionInitializing is the state a session is born in: the submission
	// has been accepted and the snapshot persisted, but orchestration has not
	// started yet.
	SessionInitializing SessionStatus = "initializing"
	// SessionValidating means the input snapshot is being structurally validated.
	SessionValidating SessionStatus = "validating"
	// SessionPreparing means the per-strategy subdirectories are being created.
	SessionPreparing SessionStatus = "preparing"
	// SessionTraining means control has been handed to the strategy manager.
	SessionTraining SessionStatus = "training"
	// SessionPredicting means training finished and an immediate prediction
	// was requested and is being generated.
	SessionPredicting SessionStatus = "predicting"
	// SessionCompleted is the successful terminal state.
	SessionCompleted SessionStatus = "completed"
	// SessionFailed is the terminal error state, reachable from any
	// non-terminal state.
	SessionFailed SessionStatus = "failed"
)

type SessionStatus string

func (s SessionStatus) String() string {
	return string(s)
}

// Terminal returns true if no further transitions are possible from s.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// LeaderboardRow is one ranked candidate model. Per-strategy leaderboard
// files carry the model and score columns; the strategy tag is filled in
// when leaderboards are combined.
type LeaderboardRow struct {
	Model    string  `json:"model" csv:"model"`
	Score    float64 `json:"score_val" csv:"score_val"`
	Strategy string  `json:"strategy" csv:"strategy"`
}

// StatusRecord is the durable state of one training session. The in-memory
// copy and the on-disk metadata.json are written together on every
// transition; the on-disk copy is the source of truth after a restart.
type StatusRecord struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Progress  int           `json:"progress"`

	CreateTime time.Time  `json:"create_time"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`

	OriginalFilename string `json:"original_filename,omitempty"`
	SnapshotPath     string `json:"snapshot_path,omitempty"`
	SessionPath      string `json:"session_path,omitempty"`

	TrainingParameters *TrainingParameters `json:"training_parameters,omitempty"`

	Error    string   `json:"error,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	BestStrategy string           `json:"best_strategy,omitempty"`
	BestModel    string           `json:"best_model,omitempty"`
	Leaderboard  []LeaderboardRow `json:"leaderboard,omitempty"`
}

// Clone returns a deep copy. The store hands out clones so that concurrent
// status polls never observe a record mid-mutation.
func (r *StatusRecord) Clone() *StatusRecord {
	cp := *r
	if r.StartTime != nil {
		t := *r.StartTime
		cp.StartTime = &t
	}
	if r.EndTime != nil {
		t := *r.EndTime
		cp.EndTime = &t
	}
	if r.Warnings != nil {
		cp.Warnings = append([]string(nil), r.Warnings...)
	}
	if r.Leaderboard != nil {
		cp.Leaderboard = append([]LeaderboardRow(nil), r.Leaderboard...)
	}
	if r.TrainingParameters != nil {
		p := r.TrainingParameters.Clone()
		cp.TrainingParameters = p
	}
	return &cp
}

func (r *StatusRecord) String() string {
	out, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	return string(out)
}
