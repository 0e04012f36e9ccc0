package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/domain"
	"github.com/meridianml/forecast-backend/internal/server/metrics"
	"github.com/meridianml/forecast-backend/internal/training"
)

// PredictHttpHandler runs an on-demand prediction for a completed session
// with the best trained model, refreshing the session's prediction
// artifacts. Both POST and GET are routed here; prediction re-reads the
// persisted snapshot, so there is no request body.
type PredictHttpHandler struct {
	*BaseHandler

	orchestrator      *training.Orchestrator
	prometheusMetrics *metrics.PrometheusMetricsWrapper
}

func NewPredictHttpHandler(opts *domain.Configuration, orchestrator *training.Orchestrator, prometheusMetrics *metrics.PrometheusMetricsWrapper, atom *zap.AtomicLevel) *PredictHttpHandler {
	handler := &PredictHttpHandler{
		BaseHandler:       newBaseHandler(opts, atom),
		orchestrator:      orchestrator,
		prometheusMetrics: prometheusMetrics,
	}
	handler.BackendHttpHandler = handler

	handler.logger.Info("Creating server-side PredictHttpHandler.")

	return handler
}

func (h *PredictHttpHandler) HandleRequest(c *gin.Context) {
	sessionID := c.Param("session_id")

	csvPath, err := h.orchestrator.Predict(c.Request.Context(), sessionID)
	if err != nil {
		h.prometheusMetrics.PredictionGenerated("error")
		h.logger.Warn("Prediction request failed.",
			zap.String("session_id", sessionID), zap.Error(err))
		h.WriteError(c, err)
		return
	}

	h.prometheusMetrics.PredictionGenerated("ok")
	h.logger.Debug("Prediction artifacts refreshed.",
		zap.String("session_id", sessionID),
		zap.String("prediction_file", csvPath))

	c.JSON(http.StatusOK, gin.H{
		"status":          domain.ResponseStatusOK,
		"session_id":      sessionID,
		"prediction_file": filepath.Base(csvPath),
	})
}
