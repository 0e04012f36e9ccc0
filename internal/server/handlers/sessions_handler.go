package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/domain"
)

// SessionsHttpHandler lists the sessions that are currently in a
// non-terminal state. Terminal sessions are reachable individually through
// the status endpoint.
type SessionsHttpHandler struct {
	*BaseHandler

	store domain.SessionStore
}

func NewSessionsHttpHandler(opts *domain.Configuration, store domain.SessionStore, atom *zap.AtomicLevel) *SessionsHttpHandler {
	handler := &SessionsHttpHandler{
		BaseHandler: newBaseHandler(opts, atom),
		store:       store,
	}
	handler.BackendHttpHandler = handler

	handler.logger.Info("Creating server-side SessionsHttpHandler.")

	return handler
}

func (h *SessionsHttpHandler) HandleRequest(c *gin.Context) {
	active := h.store.ActiveSessions()
	h.logger.Debug("Listing active sessions.", zap.Int("num_active", len(active)))
	c.JSON(http.StatusOK, gin.H{
		"status":   domain.ResponseStatusOK,
		"sessions": active,
	})
}
