package handlers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/automl"
	"github.com/meridianml/forecast-backend/internal/domain"
)

// DownloadPredictionHttpHandler serves a session's prediction artifacts:
// the xlsx bundle on the primary route and the bare CSV on the CSV route.
// The artifacts exist after training with predict_after_training, or after
// an explicit predict call.
type DownloadPredictionHttpHandler struct {
	*BaseHandler

	store domain.SessionStore
}

func NewDownloadPredictionHttpHandler(opts *domain.Configuration, store domain.SessionStore, atom *zap.AtomicLevel) *DownloadPredictionHttpHandler {
	handler := &DownloadPredictionHttpHandler{
		BaseHandler: newBaseHandler(opts, atom),
		store:       store,
	}
	handler.BackendHttpHandler = handler

	handler.logger.Info("Creating server-side DownloadPredictionHttpHandler.")

	return handler
}

// HandleRequest serves the xlsx bundle.
func (h *DownloadPredictionHttpHandler) HandleRequest(c *gin.Context) {
	h.serveArtifact(c, automl.PredictionWorkbookName(c.Param("session_id")))
}

// HandleCsvRequest serves the CSV forecast.
func (h *DownloadPredictionHttpHandler) HandleCsvRequest(c *gin.Context) {
	h.serveArtifact(c, automl.PredictionCSVName(c.Param("session_id")))
}

func (h *DownloadPredictionHttpHandler) serveArtifact(c *gin.Context, filename string) {
	sessionID := c.Param("session_id")

	record, err := h.store.GetStatus(sessionID)
	if err != nil {
		h.WriteError(c, err)
		return
	}

	path := filepath.Join(record.SessionPath, filename)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("%w: session %q has no prediction artifact %q", domain.ErrModelNotFound, sessionID, filename)
		}
		h.logger.Warn("Prediction artifact unavailable.",
			zap.String("session_id", sessionID),
			zap.String("artifact", filename), zap.Error(err))
		h.WriteError(c, err)
		return
	}

	h.logger.Debug("Serving prediction artifact.",
		zap.String("session_id", sessionID),
		zap.String("artifact", filename))

	c.FileAttachment(path, filename)
}
