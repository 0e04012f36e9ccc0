// Package automl hosts the forecasting strategies, the manager that runs
// them with failure isolation, and the leaderboard/prediction artifact
// plumbing. Each strategy owns its subdirectory under the session path.
package automl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zhangjyr/gocsv"

	"github.com/meridianml/forecast-backend/internal/domain"
)

// Artifact file names inside a strategy's subdirectory.
const (
	LeaderboardFileName   = "leaderboard.csv"
	ModelMetadataFileName = "model_metadata.json"
	ModelArtifactFileName = "model.json"
)

// strategyLeaderboardRow is the per-strategy leaderboard layout. The
// strategy tag only exists on combined rows.
type strategyLeaderboardRow struct {
	Model string  `csv:"model"`
	Score float64 `csv:"score_val"`
}

// modelArtifact is the engine state a strategy persists as model.json; it
// is everything Predict needs to rebuild the forecaster.
type modelArtifact struct {
	Strategy  string             `json:"strategy"`
	BestModel string             `json:"best_model"`
	Metric    string             `json:"metric"`
	Frequency string             `json:"frequency,omitempty"`
	Horizon   int                `json:"horizon"`
	Weights   map[string]float64 `json:"weights,omitempty"`
	TrainedAt time.Time          `json:"trained_at"`
}

// modelMetadata is the human-facing summary written next to the artifact.
type modelMetadata struct {
	Strategy  string             `json:"strategy"`
	BestModel string             `json:"best_model"`
	BestScore float64            `json:"best_score"`
	Metric    string             `json:"metric"`
	NumModels int                `json:"num_models"`
	Weights   map[string]float64 `json:"ensemble_weights,omitempty"`
	TrainedAt time.Time          `json:"trained_at"`
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data)
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeStrategyLeaderboard persists a strategy's own leaderboard file,
// temp-then-rename so a retrained strategy replaces it atomically.
func writeStrategyLeaderboard(path string, rows []strategyLeaderboardRow) error {
	var buf bytes.Buffer
	if err := gocsv.Marshal(rows, &buf); err != nil {
		return fmt.Errorf("encoding leaderboard: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// readStrategyLeaderboard loads one strategy's leaderboard file. A missing
// file is reported as fs.ErrNotExist for the caller to interpret.
func readStrategyLeaderboard(path string) ([]strategyLeaderboardRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	rows := make([]strategyLeaderboardRow, 0)
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", path, err)
	}
	return rows, nil
}

// WriteLeaderboard persists a combined leaderboard at the given path.
func WriteLeaderboard(path string, rows []domain.LeaderboardRow) error {
	var buf bytes.Buffer
	if err := gocsv.Marshal(rows, &buf); err != nil {
		return fmt.Errorf("encoding combined leaderboard: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// loadArtifact reads a strategy's model.json. ErrModelNotFound is returned
// when the strategy never trained in this session.
func loadArtifact(sessionPath, strategyName string) (*modelArtifact, error) {
	path := filepath.Join(sessionPath, strategyName, ModelArtifactFileName)
	artifact := &modelArtifact{}
	if err := readJSON(path, artifact); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no %s artifact under %q", domain.ErrModelNotFound, strategyName, sessionPath)
		}
		return nil, err
	}
	return artifact, nil
}

// LoadEnsembleWeights returns the weighted-ensemble composition persisted
// by the ensemble strategy, or nil when the strategy did not train.
func LoadEnsembleWeights(sessionPath string) map[string]float64 {
	artifact, err := loadArtifact(sessionPath, StrategyEnsemble)
	if err != nil {
		return nil
	}
	return artifact.Weights
}
