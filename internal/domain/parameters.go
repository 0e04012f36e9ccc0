package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AllModelsToken selects every model an engine offers, equivalent to
// omitting the subset altogether.
const AllModelsToken = "*"

var validMetrics = map[string]struct{}{
	"MASE":  {},
	"RMSE":  {},
	"MAE":   {},
	"MAPE":  {},
	"SMAPE": {},
	"WAPE":  {},
}

var validFillMethods = map[string]struct{}{
	"":       {},
	"none":   {},
	"ffill":  {},
	"bfill":  {},
	"mean":   {},
	"median": {},
	"zero":   {},
}

// TrainingParameters is the declarative configuration of one training
// session. It is immutable once the session starts: strategies receive a
// reference and must never mutate it.
type TrainingParameters struct {
	DatetimeColumn string `json:"datetime_column"`
	TargetColumn   string `json:"target_column"`
	ItemIDColumn   string `json:"item_id_column"`

	// Frequency of the series, e.g. "D", "W", "M", or "auto" to infer.
	Frequency string `json:"frequency,omitempty"`

	FillMissingMethod string   `json:"fill_missing_method,omitempty"`
	FillGroupColumns  []string `json:"fill_group_columns,omitempty"`

	UseHolidays bool `json:"use_holidays,omitempty"`

	EvaluationMetric string `json:"evaluation_metric"`

	// ModelsToTrain selects the model subset for the ensemble-search engine.
	// nil or {"*"} selects all models; an explicitly empty list is invalid.
	ModelsToTrain []string `json:"models_to_train,omitempty"`

	// ClassicalModels selects the model subset for the per-series classical
	// engine, with the same conventions as ModelsToTrain.
	ClassicalModels []string `json:"classical_models,omitempty"`

	Preset string `json:"preset,omitempty"`

	PredictMeanOnly bool `json:"predict_mean_only,omitempty"`

	PredictionLength int `json:"prediction_length,omitempty"`

	// TrainingTimeLimit is the wall-clock budget in seconds shared by the
	// strategies. 0 means unlimited.
	TrainingTimeLimit int `json:"training_time_limit,omitempty"`

	StaticFeatureColumns []string `json:"static_feature_columns,omitempty"`

	// PredictAfterTraining triggers an immediate prediction once training
	// completes, writing the prediction artifacts before the session is
	// marked completed.
	PredictAfterTraining bool `json:"predict_after_training,omitempty"`
}

// Clone returns a deep copy of the parameters.
func (p *TrainingParameters) Clone() *TrainingParameters {
	cp := *p
	if p.FillGroupColumns != nil {
		cp.FillGroupColumns = append([]string(nil), p.FillGroupColumns...)
	}
	if p.ModelsToTrain != nil {
		cp.ModelsToTrain = append([]string(nil), p.ModelsToTrain...)
	}
	if p.ClassicalModels != nil {
		cp.ClassicalModels = append([]string(nil), p.ClassicalModels...)
	}
	if p.StaticFeatureColumns != nil {
		cp.StaticFeatureColumns = append([]string(nil), p.StaticFeatureColumns...)
	}
	return &cp
}

// MetricName returns the metric identifier normalized to the form the
// engines expect. Submissions may carry a human label such as
// "MASE (mean absolute scaled error)"; only the leading token counts.
func (p *TrainingParameters) MetricName() string {
	return strings.ToUpper(strings.SplitN(strings.TrimSpace(p.EvaluationMetric), " ", 2)[0])
}

// FrequencyName returns the frequency identifier, or "" when the frequency
// should be inferred from the data.
func (p *TrainingParameters) FrequencyName() string {
	freq := strings.SplitN(strings.TrimSpace(p.Frequency), " ", 2)[0]
	if strings.EqualFold(freq, "auto") {
		return ""
	}
	return freq
}

// WantsAllModels reports whether the given subset selects every model.
func WantsAllModels(subset []string) bool {
	if subset == nil {
		return true
	}
	for _, m := range subset {
		if m == AllModelsToken {
			return true
		}
	}
	return false
}

// Validate checks the parameters and returns one message per offending
// field. Validation is pure: it inspects, never mutates.
func (p *TrainingParameters) Validate() []string {
	var violations []string

	if strings.TrimSpace(p.DatetimeColumn) == "" {
		violations = append(violations, "datetime_column: must not be blank")
	}
	if strings.TrimSpace(p.TargetColumn) == "" {
		violations = append(violations, "target_column: must not be blank")
	}
	if strings.TrimSpace(p.ItemIDColumn) == "" {
		violations = append(violations, "item_id_column: must not be blank")
	}

	if _, ok := validMetrics[p.MetricName()]; !ok {
		violations = append(violations, fmt.Sprintf("evaluation_metric: unknown metric %q", p.EvaluationMetric))
	}

	if _, ok := validFillMethods[strings.ToLower(p.FillMissingMethod)]; !ok {
		violations = append(violations, fmt.Sprintf("fill_missing_method: unknown method %q", p.FillMissingMethod))
	}

	// A subset that was explicitly requested must not be empty. A nil slice
	// means the field was omitted, which selects all models.
	if p.ModelsToTrain != nil && len(p.ModelsToTrain) == 0 {
		violations = append(violations, "models_to_train: requested subset is empty")
	}
	if p.ClassicalModels != nil && len(p.ClassicalModels) == 0 {
		violations = append(violations, "classical_models: requested subset is empty")
	}

	if p.PredictionLength < 1 {
		violations = append(violations, fmt.Sprintf("prediction_length: must be >= 1, got %d", p.PredictionLength))
	} else if p.PredictionLength > 10000 {
		violations = append(violations, fmt.Sprintf("prediction_length: must be <= 10000, got %d", p.PredictionLength))
	}

	if p.TrainingTimeLimit < 0 {
		violations = append(violations, fmt.Sprintf("training_time_limit: must be >= 0, got %d", p.TrainingTimeLimit))
	}

	return violations
}

// ParseTrainingParameters decodes an untrusted JSON payload into validated
// parameters. On validation failure the returned error wraps
// ErrInvalidParameters and lists every offending field, not just the first.
func ParseTrainingParameters(raw []byte) (*TrainingParameters, error) {
	params := &TrainingParameters{
		Frequency:        "auto",
		PredictionLength: 3,
		Preset:           "high_quality",
	}
	if err := json.Unmarshal(raw, params); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON: %s", ErrInvalidParameters, err.Error())
	}

	if violations := params.Validate(); len(violations) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(violations, "; "))
	}

	return params, nil
}
