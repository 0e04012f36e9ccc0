package engine_test

import (
	"context"
	"math"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/dataset"
	"github.com/meridianml/forecast-backend/internal/engine"
)

// dailySeries builds a daily series from consecutive values starting at a
// fixed date.
func dailySeries(values ...float64) []dataset.Point {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]dataset.Point, len(values))
	for i, v := range values {
		points[i] = dataset.Point{Timestamp: start.AddDate(0, 0, i), Value: v}
	}
	return points
}

var _ = Describe("Score Tests", func() {
	It("Will compute MAE", func() {
		score, err := engine.Score("MAE", []float64{1, 2, 3}, []float64{2, 2, 5}, nil)
		Expect(err).To(BeNil())
		Expect(score).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("Will compute RMSE", func() {
		score, err := engine.Score("RMSE", []float64{0, 0}, []float64{3, 4}, nil)
		Expect(err).To(BeNil())
		Expect(score).To(BeNumerically("~", math.Sqrt(12.5), 1e-9))
	})

	It("Will compute WAPE", func() {
		score, err := engine.Score("WAPE", []float64{10, 10}, []float64{8, 12}, nil)
		Expect(err).To(BeNil())
		Expect(score).To(BeNumerically("~", 0.2, 1e-9))
	})

	It("Will scale MASE by the in-sample naive error", func() {
		// In-sample one-step naive error: |2-1|, |3-2| -> mean 1.
		score, err := engine.Score("MASE", []float64{4, 5}, []float64{4, 5}, []float64{1, 2, 3})
		Expect(err).To(BeNil())
		Expect(score).To(BeNumerically("~", 0.0, 1e-9))
	})

	It("Will return +Inf MASE for a flat in-sample series", func() {
		score, err := engine.Score("MASE", []float64{5}, []float64{5}, []float64{2, 2, 2})
		Expect(err).To(BeNil())
		Expect(math.IsInf(score, 1)).To(BeTrue())
	})

	It("Will skip zero actuals in MAPE", func() {
		score, err := engine.Score("MAPE", []float64{0, 10}, []float64{1, 9}, nil)
		Expect(err).To(BeNil())
		Expect(score).To(BeNumerically("~", 0.1, 1e-9))
	})

	It("Will reject unknown metrics and mismatched lengths", func() {
		_, err := engine.Score("R2", []float64{1}, []float64{1}, nil)
		Expect(err).ToNot(BeNil())

		_, err = engine.Score("MAE", []float64{1, 2}, []float64{1}, nil)
		Expect(err).ToNot(BeNil())
	})
})

var _ = Describe("Engine Tests", func() {
	atom := zap.NewAtomicLevelAt(zap.DebugLevel)

	var eng *engine.Engine

	BeforeEach(func() {
		eng = engine.New(&atom)
	})

	It("Will rank candidates ascending by holdout score", func() {
		// A perfectly flat series: Naive and Mean are exact; Drift is exact
		// too since the slope is zero.
		series := map[string][]dataset.Point{
			"a": dailySeries(5, 5, 5, 5, 5, 5, 5, 5, 5),
		}

		result, err := eng.Evaluate(context.Background(), series, &engine.Spec{
			Metric: "MAE", Horizon: 2, Frequency: "D",
		})
		Expect(err).To(BeNil())
		Expect(result.Leaderboard).ToNot(BeEmpty())

		for i := 1; i < len(result.Leaderboard); i++ {
			Expect(result.Leaderboard[i-1].Score).To(BeNumerically("<=", result.Leaderboard[i].Score))
		}
	})

	It("Will add a WeightedEnsemble row when requested", func() {
		series := map[string][]dataset.Point{
			"a": dailySeries(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12),
		}

		result, err := eng.Evaluate(context.Background(), series, &engine.Spec{
			Metric: "MAE", Horizon: 3, Frequency: "D", Ensemble: true,
		})
		Expect(err).To(BeNil())

		models := make([]string, 0, len(result.Leaderboard))
		for _, row := range result.Leaderboard {
			models = append(models, row.Model)
		}
		Expect(models).To(ContainElement(engine.ModelWeightedEnsemble))
		Expect(result.Weights).ToNot(BeEmpty())

		total := 0.0
		for _, w := range result.Weights {
			total += w
		}
		Expect(total).To(BeNumerically("~", 1.0, 1e-9))
	})

	It("Will omit the ensemble row when not requested", func() {
		series := map[string][]dataset.Point{
			"a": dailySeries(1, 2, 3, 4, 5, 6, 7, 8, 9),
		}

		result, err := eng.Evaluate(context.Background(), series, &engine.Spec{
			Metric: "MAE", Horizon: 2, Frequency: "D",
		})
		Expect(err).To(BeNil())

		for _, row := range result.Leaderboard {
			Expect(row.Model).ToNot(Equal(engine.ModelWeightedEnsemble))
		}
	})

	It("Will restrict candidates to the requested subset", func() {
		series := map[string][]dataset.Point{
			"a": dailySeries(1, 2, 3, 4, 5, 6),
		}

		result, err := eng.Evaluate(context.Background(), series, &engine.Spec{
			Metric: "MAE", Horizon: 1, Frequency: "D",
			Models: []string{engine.ModelNaive, engine.ModelMean},
		})
		Expect(err).To(BeNil())
		Expect(result.Leaderboard).To(HaveLen(2))
	})

	It("Will fail when every series is too short to split", func() {
		series := map[string][]dataset.Point{
			"a": dailySeries(1, 2),
		}

		_, err := eng.Evaluate(context.Background(), series, &engine.Spec{
			Metric: "MAE", Horizon: 1, Frequency: "D",
		})
		Expect(err).ToNot(BeNil())
	})

	It("Will stop when the context is cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		series := map[string][]dataset.Point{
			"a": dailySeries(1, 2, 3, 4, 5, 6),
		}
		_, err := eng.Evaluate(ctx, series, &engine.Spec{Metric: "MAE", Horizon: 1, Frequency: "D"})
		Expect(err).To(Equal(context.Canceled))
	})

	Context("Forecast", func() {
		It("Will produce horizon points with daily timestamps", func() {
			series := map[string][]dataset.Point{
				"a": dailySeries(1, 2, 3, 4, 5),
			}

			forecasts, err := eng.Forecast(context.Background(), series, &engine.Spec{
				Metric: "MAE", Horizon: 3, Frequency: "D",
			}, engine.ModelNaive, nil)
			Expect(err).To(BeNil())
			Expect(forecasts["a"]).To(HaveLen(3))

			last := series["a"][len(series["a"])-1]
			Expect(forecasts["a"][0].Timestamp).To(Equal(last.Timestamp.Add(24 * time.Hour)))
			Expect(forecasts["a"][2].Timestamp).To(Equal(last.Timestamp.Add(72 * time.Hour)))
			// Naive repeats the last observed value.
			Expect(forecasts["a"][0].Value).To(Equal(5.0))
			Expect(forecasts["a"][2].Value).To(Equal(5.0))
		})

		It("Will extrapolate a linear trend with the drift model", func() {
			series := map[string][]dataset.Point{
				"a": dailySeries(1, 2, 3, 4, 5),
			}

			forecasts, err := eng.Forecast(context.Background(), series, &engine.Spec{
				Metric: "MAE", Horizon: 2, Frequency: "D",
			}, engine.ModelDrift, nil)
			Expect(err).To(BeNil())
			Expect(forecasts["a"][0].Value).To(BeNumerically("~", 6.0, 1e-9))
			Expect(forecasts["a"][1].Value).To(BeNumerically("~", 7.0, 1e-9))
		})

		It("Will repeat the last season with the seasonal naive model", func() {
			// Weekly pattern over three weeks of daily data.
			week := []float64{1, 2, 3, 4, 5, 6, 7}
			values := append(append(append([]float64{}, week...), week...), week...)

			series := map[string][]dataset.Point{
				"a": dailySeries(values...),
			}

			forecasts, err := eng.Forecast(context.Background(), series, &engine.Spec{
				Metric: "MAE", Horizon: 7, Frequency: "D",
			}, engine.ModelSeasonalNaive, nil)
			Expect(err).To(BeNil())
			for i := 0; i < 7; i++ {
				Expect(forecasts["a"][i].Value).To(Equal(week[i]))
			}
		})

		It("Will blend member forecasts in the weighted ensemble", func() {
			series := map[string][]dataset.Point{
				"a": dailySeries(0, 0, 0, 0, 10),
			}

			// Naive forecasts 10, Mean forecasts 2; equal weights blend to 6.
			forecasts, err := eng.Forecast(context.Background(), series, &engine.Spec{
				Metric: "MAE", Horizon: 1, Frequency: "D",
			}, engine.ModelWeightedEnsemble, map[string]float64{
				engine.ModelNaive: 0.5,
				engine.ModelMean:  0.5,
			})
			Expect(err).To(BeNil())
			Expect(forecasts["a"][0].Value).To(BeNumerically("~", 6.0, 1e-9))
		})

		It("Will reject an unknown model name", func() {
			series := map[string][]dataset.Point{
				"a": dailySeries(1, 2, 3),
			}
			_, err := eng.Forecast(context.Background(), series, &engine.Spec{
				Metric: "MAE", Horizon: 1, Frequency: "D",
			}, "GradientBoosting", nil)
			Expect(err).ToNot(BeNil())
		})
	})
})
