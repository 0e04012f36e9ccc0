package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/domain"
)

type ConfigHttpHandler struct {
	*BaseHandler
}

func NewConfigHttpHandler(opts *domain.Configuration, atom *zap.AtomicLevel) *ConfigHttpHandler {
	handler := &ConfigHttpHandler{
		BaseHandler: newBaseHandler(opts, atom),
	}
	handler.BackendHttpHandler = handler

	handler.logger.Info("Creating server-side ConfigHttpHandler.")

	return handler
}

func (h *ConfigHttpHandler) HandleRequest(c *gin.Context) {
	h.logger.Debug("Sending config back to client now.", zap.Any("config", h.opts))
	c.JSON(http.StatusOK, h.opts)
}
