package domain_test

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/meridianml/forecast-backend/internal/domain"
)

var _ = Describe("TrainingParameters Tests", func() {
	It("Will apply the documented defaults for omitted fields", func() {
		params, err := domain.ParseTrainingParameters([]byte(`{
			"datetime_column": "ds",
			"target_column": "y",
			"item_id_column": "item",
			"evaluation_metric": "MASE"
		}`))

		Expect(err).To(BeNil())
		Expect(params.Frequency).To(Equal("auto"))
		Expect(params.PredictionLength).To(Equal(3))
		Expect(params.Preset).To(Equal("high_quality"))
	})

	It("Will reject malformed JSON with ErrInvalidParameters", func() {
		_, err := domain.ParseTrainingParameters([]byte(`{"datetime_column": `))

		Expect(err).ToNot(BeNil())
		Expect(errors.Is(err, domain.ErrInvalidParameters)).To(BeTrue())
	})

	It("Will report every offending field, not just the first", func() {
		_, err := domain.ParseTrainingParameters([]byte(`{
			"datetime_column": "",
			"target_column": "",
			"item_id_column": "item",
			"evaluation_metric": "BOGUS",
			"prediction_length": 0
		}`))

		Expect(err).ToNot(BeNil())
		Expect(errors.Is(err, domain.ErrInvalidParameters)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("datetime_column"))
		Expect(err.Error()).To(ContainSubstring("target_column"))
		Expect(err.Error()).To(ContainSubstring("evaluation_metric"))
		Expect(err.Error()).To(ContainSubstring("prediction_length"))
	})

	It("Will treat an omitted model subset as selecting all models", func() {
		params, err := domain.ParseTrainingParameters([]byte(`{
			"datetime_column": "ds",
			"target_column": "y",
			"item_id_column": "item",
			"evaluation_metric": "RMSE"
		}`))

		Expect(err).To(BeNil())
		Expect(params.ModelsToTrain).To(BeNil())
		Expect(domain.WantsAllModels(params.ModelsToTrain)).To(BeTrue())
	})

	It("Will reject an explicitly empty model subset", func() {
		_, err := domain.ParseTrainingParameters([]byte(`{
			"datetime_column": "ds",
			"target_column": "y",
			"item_id_column": "item",
			"evaluation_metric": "RMSE",
			"models_to_train": []
		}`))

		Expect(err).ToNot(BeNil())
		Expect(err.Error()).To(ContainSubstring("models_to_train"))
	})

	It("Will treat the \"*\" token as selecting all models", func() {
		Expect(domain.WantsAllModels([]string{"*"})).To(BeTrue())
		Expect(domain.WantsAllModels([]string{"Naive"})).To(BeFalse())
	})

	It("Will normalize a human-readable metric label to its leading token", func() {
		params := &domain.TrainingParameters{EvaluationMetric: "mase (mean absolute scaled error)"}
		Expect(params.MetricName()).To(Equal("MASE"))
	})

	It("Will resolve \"auto\" frequency to the empty identifier", func() {
		params := &domain.TrainingParameters{Frequency: "auto"}
		Expect(params.FrequencyName()).To(Equal(""))

		params.Frequency = "D (daily)"
		Expect(params.FrequencyName()).To(Equal("D"))
	})

	It("Will not be mutated through a clone", func() {
		params := &domain.TrainingParameters{
			DatetimeColumn: "ds",
			ModelsToTrain:  []string{"Naive"},
		}

		clone := params.Clone()
		clone.ModelsToTrain[0] = "Drift"
		clone.DatetimeColumn = "changed"

		Expect(params.ModelsToTrain[0]).To(Equal("Naive"))
		Expect(params.DatetimeColumn).To(Equal("ds"))
	})
})

var _ = Describe("StatusRecord Tests", func() {
	It("Will deep-copy leaderboard rows and warnings on Clone", func() {
		record := &domain.StatusRecord{
			SessionID:   "abc",
			Status:      domain.SessionTraining,
			Warnings:    []string{"w1"},
			Leaderboard: []domain.LeaderboardRow{{Model: "Naive", Score: 1.5, Strategy: "ensemble"}},
		}

		clone := record.Clone()
		clone.Warnings[0] = "changed"
		clone.Leaderboard[0].Model = "changed"

		Expect(record.Warnings[0]).To(Equal("w1"))
		Expect(record.Leaderboard[0].Model).To(Equal("Naive"))
	})

	It("Will report only completed and failed as terminal", func() {
		Expect(domain.SessionCompleted.Terminal()).To(BeTrue())
		Expect(domain.SessionFailed.Terminal()).To(BeTrue())
		Expect(domain.SessionTraining.Terminal()).To(BeFalse())
		Expect(domain.SessionPredicting.Terminal()).To(BeFalse())
	})
})

var _ = Describe("Error taxonomy Tests", func() {
	It("Will map the error taxonomy onto the documented HTTP statuses", func() {
		Expect(domain.ErrorToHTTPStatus(domain.ErrSessionNotFound)).To(Equal(http.StatusNotFound))
		Expect(domain.ErrorToHTTPStatus(domain.ErrModelNotFound)).To(Equal(http.StatusNotFound))
		Expect(domain.ErrorToHTTPStatus(domain.ErrNoModelTrained)).To(Equal(http.StatusNotFound))
		Expect(domain.ErrorToHTTPStatus(domain.ErrInvalidParameters)).To(Equal(http.StatusUnprocessableEntity))
		Expect(domain.ErrorToHTTPStatus(domain.ErrValidationFailed)).To(Equal(http.StatusBadRequest))
		Expect(domain.ErrorToHTTPStatus(domain.ErrSessionExists)).To(Equal(http.StatusConflict))
		Expect(domain.ErrorToHTTPStatus(errors.New("anything else"))).To(Equal(http.StatusInternalServerError))
	})

	It("Will keep the mapping stable through wrapping", func() {
		wrapped := errors.Join(domain.ErrInvalidParameters, errors.New("field detail"))
		Expect(domain.ErrorToHTTPStatus(wrapped)).To(Equal(http.StatusUnprocessableEntity))
	})
})
