package domain

import (
	"errors"
	"net/http"
)

const (
	ResponseStatusError string = "ERROR"
	ResponseStatusOK    string = "OK"
)

var (
	// ErrSessionExists is returned when a session directory already exists for
	// a freshly generated session id. Ids are random UUIDs, so this indicates
	// either an id-generation bug or leftover state from a previous run.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned when no status record exists for the
	// requested session id, neither in memory nor on disk.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidParameters is returned when the submitted training parameters
	// fail validation. The wrapping error lists every offending field.
	ErrInvalidParameters = errors.New("invalid training parameters")

	// ErrValidationFailed is returned when the dataset fails structural
	// validation before any engine runs.
	ErrValidationFailed = errors.New("dataset validation failed")

	// ErrStrategyFailed tags the failure of a single strategy. It is isolated
	// at the manager boundary and does not fail the session on its own.
	ErrStrategyFailed = errors.New("strategy failed")

	// ErrAllStrategiesFailed is returned by the manager when every registered
	// strategy failed, which does fail the session.
	ErrAllStrategiesFailed = errors.New("all strategies failed")

	// ErrNoModelTrained is returned when the combined leaderboard is empty and
	// a downstream operation needs a winning model.
	ErrNoModelTrained = errors.New("no model has been trained")

	// ErrModelNotFound is returned when prediction is requested but the
	// strategy's artifacts are absent from the session directory.
	ErrModelNotFound = errors.New("model artifacts not found")

	// ErrPredictionFailed wraps an engine's own failure during prediction.
	ErrPredictionFailed = errors.New("prediction failed")
)

// ErrorToHTTPStatus maps the error taxonomy onto HTTP status codes.
func ErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrModelNotFound), errors.Is(err, ErrNoModelTrained):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidParameters):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrSessionExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
