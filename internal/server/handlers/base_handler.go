// Package handlers contains one handler struct per backend HTTP route.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meridianml/forecast-backend/internal/domain"
)

type BaseHandler struct {
	http.Handler

	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger
	atom          *zap.AtomicLevel

	opts *domain.Configuration

	BackendHttpHandler domain.BackendHttpHandler
}

func newBaseHandler(opts *domain.Configuration, atom *zap.AtomicLevel) *BaseHandler {
	handler := &BaseHandler{
		opts: opts,
		atom: atom,
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	handler.logger = zap.New(core, zap.Development())
	handler.sugaredLogger = handler.logger.Sugar()

	handler.BackendHttpHandler = handler

	return handler
}

func (h *BaseHandler) PrimaryHttpHandler() domain.BackendHttpHandler {
	return h.BackendHttpHandler
}

// WriteError writes an error back to the client, mapping the error taxonomy
// onto HTTP status codes.
func (h *BaseHandler) WriteError(c *gin.Context, err error) {
	c.JSON(domain.ErrorToHTTPStatus(err), gin.H{
		"status": domain.ResponseStatusError,
		"error":  err.Error(),
	})
}

func (h *BaseHandler) HandleRequest(c *gin.Context) {
	h.BackendHttpHandler.HandleRequest(c)
}
