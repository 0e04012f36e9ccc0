package automl

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/meridianml/forecast-backend/internal/dataset"
	"github.com/meridianml/forecast-backend/internal/domain"
)

// Workbook sheet names of the downloadable prediction bundle.
const (
	sheetPredictions = "Predictions"
	sheetLeaderboard = "Leaderboard"
	sheetParameters  = "Parameters"
	sheetEnsemble    = "Ensemble"
)

// PredictionCSVName returns the session's CSV prediction artifact name.
func PredictionCSVName(sessionID string) string {
	return fmt.Sprintf("prediction_%s.csv", sessionID)
}

// PredictionWorkbookName returns the session's xlsx bundle name.
func PredictionWorkbookName(sessionID string) string {
	return fmt.Sprintf("prediction_%s.xlsx", sessionID)
}

// WritePredictionWorkbook writes the downloadable xlsx bundle: the forecast
// itself plus the combined leaderboard, the training parameters, and the
// ensemble composition when one was trained.
func WritePredictionWorkbook(path string, prediction *dataset.Table, leaderboard []domain.LeaderboardRow, params *domain.TrainingParameters, weights map[string]float64) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	if err := writeTableSheet(book, sheetPredictions, prediction); err != nil {
		return err
	}
	if err := writeLeaderboardSheet(book, leaderboard); err != nil {
		return err
	}
	if err := writeParametersSheet(book, params); err != nil {
		return err
	}
	if len(weights) > 0 {
		if err := writeEnsembleSheet(book, weights); err != nil {
			return err
		}
	}

	// The default sheet is replaced by the prediction sheet.
	if err := book.DeleteSheet("Sheet1"); err != nil {
		return err
	}
	index, err := book.GetSheetIndex(sheetPredictions)
	if err != nil {
		return err
	}
	book.SetActiveSheet(index)

	return book.SaveAs(path)
}

func writeTableSheet(book *excelize.File, sheet string, table *dataset.Table) error {
	if _, err := book.NewSheet(sheet); err != nil {
		return err
	}

	for col, name := range table.Columns {
		if err := setCell(book, sheet, col+1, 1, name); err != nil {
			return err
		}
	}
	for rowIdx, rec := range table.Records {
		for col, name := range table.Columns {
			value := cellValue(rec[name])
			if err := setCell(book, sheet, col+1, rowIdx+2, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeLeaderboardSheet(book *excelize.File, leaderboard []domain.LeaderboardRow) error {
	if _, err := book.NewSheet(sheetLeaderboard); err != nil {
		return err
	}

	headers := []interface{}{"model", "score_val", "strategy"}
	for col, h := range headers {
		if err := setCell(book, sheetLeaderboard, col+1, 1, h); err != nil {
			return err
		}
	}
	for rowIdx, row := range leaderboard {
		values := []interface{}{row.Model, row.Score, row.Strategy}
		for col, v := range values {
			if err := setCell(book, sheetLeaderboard, col+1, rowIdx+2, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeParametersSheet(book *excelize.File, params *domain.TrainingParameters) error {
	if _, err := book.NewSheet(sheetParameters); err != nil {
		return err
	}

	rows := [][2]interface{}{
		{"datetime_column", params.DatetimeColumn},
		{"target_column", params.TargetColumn},
		{"item_id_column", params.ItemIDColumn},
		{"frequency", params.Frequency},
		{"evaluation_metric", params.EvaluationMetric},
		{"preset", params.Preset},
		{"prediction_length", params.PredictionLength},
		{"training_time_limit", params.TrainingTimeLimit},
		{"fill_missing_method", params.FillMissingMethod},
		{"use_holidays", params.UseHolidays},
		{"predict_mean_only", params.PredictMeanOnly},
	}
	if err := setCell(book, sheetParameters, 1, 1, "parameter"); err != nil {
		return err
	}
	if err := setCell(book, sheetParameters, 2, 1, "value"); err != nil {
		return err
	}
	for rowIdx, row := range rows {
		if err := setCell(book, sheetParameters, 1, rowIdx+2, row[0]); err != nil {
			return err
		}
		if err := setCell(book, sheetParameters, 2, rowIdx+2, row[1]); err != nil {
			return err
		}
	}
	return nil
}

func writeEnsembleSheet(book *excelize.File, weights map[string]float64) error {
	if _, err := book.NewSheet(sheetEnsemble); err != nil {
		return err
	}

	if err := setCell(book, sheetEnsemble, 1, 1, "model"); err != nil {
		return err
	}
	if err := setCell(book, sheetEnsemble, 2, 1, "weight"); err != nil {
		return err
	}
	for rowIdx, name := range sortedWeightKeys(weights) {
		if err := setCell(book, sheetEnsemble, 1, rowIdx+2, name); err != nil {
			return err
		}
		if err := setCell(book, sheetEnsemble, 2, rowIdx+2, weights[name]); err != nil {
			return err
		}
	}
	return nil
}

func setCell(book *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return book.SetCellValue(sheet, cell, value)
}

// sortedWeightKeys orders ensemble members by descending weight, then by
// name for stable output.
func sortedWeightKeys(weights map[string]float64) []string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if weights[names[i]] != weights[names[j]] {
			return weights[names[i]] > weights[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// cellValue converts number-looking strings so spreadsheet consumers get
// numeric cells instead of text.
func cellValue(raw string) interface{} {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
