package handlers

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/dataset"
	"github.com/meridianml/forecast-backend/internal/domain"
	"github.com/meridianml/forecast-backend/internal/server/metrics"
	"github.com/meridianml/forecast-backend/internal/training"
)

// TrainHttpHandler accepts a training submission: a multipart CSV upload
// plus a "params" form field holding the JSON-encoded training parameters.
// It responds 202 with the session id as soon as the run is queued.
type TrainHttpHandler struct {
	*BaseHandler

	orchestrator      *training.Orchestrator
	prometheusMetrics *metrics.PrometheusMetricsWrapper
}

func NewTrainHttpHandler(opts *domain.Configuration, orchestrator *training.Orchestrator, prometheusMetrics *metrics.PrometheusMetricsWrapper, atom *zap.AtomicLevel) *TrainHttpHandler {
	handler := &TrainHttpHandler{
		BaseHandler:       newBaseHandler(opts, atom),
		orchestrator:      orchestrator,
		prometheusMetrics: prometheusMetrics,
	}
	handler.BackendHttpHandler = handler

	handler.logger.Info("Creating server-side TrainHttpHandler.")

	return handler
}

func (h *TrainHttpHandler) HandleRequest(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.rejected(c, fmt.Errorf("%w: missing \"file\" upload: %s", domain.ErrInvalidParameters, err.Error()))
		return
	}

	if ext := strings.ToLower(filepath.Ext(fileHeader.Filename)); ext != ".csv" {
		h.rejected(c, fmt.Errorf("%w: unsupported file type %q, expected .csv", domain.ErrInvalidParameters, ext))
		return
	}

	rawParams := c.PostForm("params")
	if rawParams == "" {
		h.rejected(c, fmt.Errorf("%w: missing \"params\" form field", domain.ErrInvalidParameters))
		return
	}

	params, err := domain.ParseTrainingParameters([]byte(rawParams))
	if err != nil {
		h.rejected(c, err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.rejected(c, fmt.Errorf("opening upload: %w", err))
		return
	}
	defer func() { _ = file.Close() }()

	data, err := dataset.Read(file)
	if err != nil {
		h.rejected(c, fmt.Errorf("%w: %s", domain.ErrValidationFailed, err.Error()))
		return
	}

	sessionID, err := h.orchestrator.BeginTraining(params, data, fileHeader.Filename)
	if err != nil {
		h.rejected(c, err)
		return
	}

	h.prometheusMetrics.SessionAccepted("accepted")
	h.logger.Debug("Queued training session.",
		zap.String("session_id", sessionID),
		zap.String("filename", fileHeader.Filename),
		zap.Int("num_rows", data.NumRows()))

	c.JSON(http.StatusAccepted, gin.H{
		"status":     domain.ResponseStatusOK,
		"session_id": sessionID,
	})
}

func (h *TrainHttpHandler) rejected(c *gin.Context, err error) {
	h.prometheusMetrics.SessionAccepted("rejected")
	h.logger.Warn("Rejected training submission.", zap.Error(err))
	h.WriteError(c, err)
}
