package automl_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/meridianml/forecast-backend/internal/automl"
	"github.com/meridianml/forecast-backend/internal/dataset"
	"github.com/meridianml/forecast-backend/internal/domain"
)

var _ = Describe("Prediction Workbook Tests", func() {
	var (
		path       string
		prediction *dataset.Table
		rows       []domain.LeaderboardRow
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), automl.PredictionWorkbookName("test-session"))

		prediction = dataset.NewTable("item", "ds", automl.PredictionColumn)
		prediction.Append(map[string]string{"item": "a", "ds": "2024-03-13 00:00:00", automl.PredictionColumn: "12.5"})
		prediction.Append(map[string]string{"item": "a", "ds": "2024-03-14 00:00:00", automl.PredictionColumn: "13"})

		rows = []domain.LeaderboardRow{
			{Model: "WeightedEnsemble", Score: 0.4, Strategy: "ensemble"},
			{Model: "Naive", Score: 0.9, Strategy: "classical"},
		}
	})

	It("Will write a workbook with prediction, leaderboard, and parameter sheets", func() {
		err := automl.WritePredictionWorkbook(path, prediction, rows, strategyParams(), nil)
		Expect(err).To(BeNil())

		book, err := excelize.OpenFile(path)
		Expect(err).To(BeNil())
		defer func() { _ = book.Close() }()

		sheets := book.GetSheetList()
		Expect(sheets).To(ContainElements("Predictions", "Leaderboard", "Parameters"))
		Expect(sheets).ToNot(ContainElement("Sheet1"))
		Expect(sheets).ToNot(ContainElement("Ensemble"))

		cell, err := book.GetCellValue("Predictions", "C2")
		Expect(err).To(BeNil())
		Expect(cell).To(Equal("12.5"))

		model, err := book.GetCellValue("Leaderboard", "A2")
		Expect(err).To(BeNil())
		Expect(model).To(Equal("WeightedEnsemble"))
	})

	It("Will add the ensemble sheet only when weights exist, ordered by weight", func() {
		weights := map[string]float64{"Naive": 0.25, "Drift": 0.75}
		err := automl.WritePredictionWorkbook(path, prediction, rows, strategyParams(), weights)
		Expect(err).To(BeNil())

		book, err := excelize.OpenFile(path)
		Expect(err).To(BeNil())
		defer func() { _ = book.Close() }()

		Expect(book.GetSheetList()).To(ContainElement("Ensemble"))

		first, err := book.GetCellValue("Ensemble", "A2")
		Expect(err).To(BeNil())
		Expect(first).To(Equal("Drift"))
		second, err := book.GetCellValue("Ensemble", "A3")
		Expect(err).To(BeNil())
		Expect(second).To(Equal("Naive"))
	})
})
