package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/domain"
)

// TrainingStatusHttpHandler serves the current status record of a session,
// including the combined leaderboard once the session completed.
type TrainingStatusHttpHandler struct {
	*BaseHandler

	store domain.SessionStore
}

func NewTrainingStatusHttpHandler(opts *domain.Configuration, store domain.SessionStore, atom *zap.AtomicLevel) *TrainingStatusHttpHandler {
	handler := &TrainingStatusHttpHandler{
		BaseHandler: newBaseHandler(opts, atom),
		store:       store,
	}
	handler.BackendHttpHandler = handler

	handler.logger.Info("Creating server-side TrainingStatusHttpHandler.")

	return handler
}

func (h *TrainingStatusHttpHandler) HandleRequest(c *gin.Context) {
	sessionID := c.Param("session_id")

	record, err := h.store.GetStatus(sessionID)
	if err != nil {
		h.logger.Warn("Status request for unknown session.",
			zap.String("session_id", sessionID), zap.Error(err))
		h.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}
