package automl_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/meridianml/forecast-backend/internal/automl"
	"github.com/meridianml/forecast-backend/internal/dataset"
	"github.com/meridianml/forecast-backend/internal/domain"
)

// fakeStrategy is a scriptable Strategy for manager-level tests. On a
// successful Train it writes a one-row leaderboard with the given score.
type fakeStrategy struct {
	name     string
	score    float64
	trainErr error
	panics   bool
	trained  int
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Train(_ context.Context, _ *dataset.Table, _ *domain.TrainingParameters, sessionPath string) error {
	s.trained++
	if s.panics {
		panic("scripted panic")
	}
	if s.trainErr != nil {
		return s.trainErr
	}

	dir := filepath.Join(sessionPath, s.name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("model,score_val\nFakeModel,%g\n", s.score)
	return os.WriteFile(filepath.Join(dir, automl.LeaderboardFileName), []byte(content), 0o644)
}

func (s *fakeStrategy) Predict(_ context.Context, _ *dataset.Table, params *domain.TrainingParameters, _ string) (*dataset.Table, error) {
	return dataset.NewTable(params.ItemIDColumn, params.DatetimeColumn, automl.PredictionColumn), nil
}

func testParams() *domain.TrainingParameters {
	return &domain.TrainingParameters{
		DatetimeColumn:   "ds",
		TargetColumn:     "y",
		ItemIDColumn:     "item",
		EvaluationMetric: "MAE",
		PredictionLength: 2,
	}
}

func emptyTable() *dataset.Table {
	return dataset.NewTable("item", "ds", "y")
}

var _ = Describe("Manager Tests", func() {
	atom := zap.NewAtomicLevelAt(zap.DebugLevel)

	var sessionPath string

	BeforeEach(func() {
		sessionPath = GinkgoT().TempDir()
	})

	It("Will run every strategy even when one fails", func() {
		failing := &fakeStrategy{name: "failing", trainErr: errors.New("engine exploded")}
		healthy := &fakeStrategy{name: "healthy", score: 0.42}
		manager := automl.NewManager(&atom, failing, healthy)

		results := manager.RunAll(context.Background(), emptyTable(), testParams(), sessionPath)

		Expect(results).To(HaveLen(2))
		Expect(results[0].Strategy).To(Equal("failing"))
		Expect(results[0].Err).ToNot(BeNil())
		Expect(errors.Is(results[0].Err, domain.ErrStrategyFailed)).To(BeTrue())
		Expect(results[1].Strategy).To(Equal("healthy"))
		Expect(results[1].Err).To(BeNil())
		Expect(healthy.trained).To(Equal(1))
	})

	It("Will isolate a panicking strategy as an ordinary failed result", func() {
		panicking := &fakeStrategy{name: "panicking", panics: true}
		healthy := &fakeStrategy{name: "healthy", score: 1.0}
		manager := automl.NewManager(&atom, panicking, healthy)

		results := manager.RunAll(context.Background(), emptyTable(), testParams(), sessionPath)

		Expect(results[0].Err).ToNot(BeNil())
		Expect(results[0].Err.Error()).To(ContainSubstring("panicked"))
		Expect(results[1].Err).To(BeNil())
	})

	It("Will give every strategy the full time budget, not what the previous one left over", func() {
		var remaining []time.Duration
		slow := &budgetRecorder{name: "slow", remaining: &remaining, delay: 150 * time.Millisecond}
		second := &budgetRecorder{name: "second", remaining: &remaining}
		manager := automl.NewManager(&atom, slow, second)

		params := testParams()
		params.TrainingTimeLimit = 60
		manager.RunAll(context.Background(), emptyTable(), params, sessionPath)

		Expect(remaining).To(HaveLen(2))
		// The first strategy burned wall-clock time, but the second still
		// starts with (almost) the whole 60s budget ahead of it.
		Expect(remaining[0]).To(BeNumerically(">", 59*time.Second))
		Expect(remaining[1]).To(BeNumerically(">", 59*time.Second))
	})

	Context("CombineLeaderboards", func() {
		It("Will tag rows with their strategy and sort ascending", func() {
			better := &fakeStrategy{name: "better", score: 0.42}
			worse := &fakeStrategy{name: "worse", score: 3.14}
			manager := automl.NewManager(&atom, worse, better)

			results := manager.RunAll(context.Background(), emptyTable(), testParams(), sessionPath)
			Expect(results[0].Err).To(BeNil())
			Expect(results[1].Err).To(BeNil())

			combined, err := manager.CombineLeaderboards(sessionPath)
			Expect(err).To(BeNil())
			Expect(combined).To(HaveLen(2))
			Expect(combined[0].Strategy).To(Equal("better"))
			Expect(combined[0].Score).To(BeNumerically("~", 0.42, 1e-9))
			Expect(combined[1].Strategy).To(Equal("worse"))
		})

		It("Will skip strategies that produced no leaderboard", func() {
			failing := &fakeStrategy{name: "failing", trainErr: errors.New("nope")}
			healthy := &fakeStrategy{name: "healthy", score: 0.5}
			manager := automl.NewManager(&atom, failing, healthy)

			manager.RunAll(context.Background(), emptyTable(), testParams(), sessionPath)

			combined, err := manager.CombineLeaderboards(sessionPath)
			Expect(err).To(BeNil())
			Expect(combined).To(HaveLen(1))
			Expect(combined[0].Strategy).To(Equal("healthy"))
		})

		It("Will be idempotent: a pure projection over the persisted files", func() {
			healthy := &fakeStrategy{name: "healthy", score: 0.5}
			manager := automl.NewManager(&atom, healthy)
			manager.RunAll(context.Background(), emptyTable(), testParams(), sessionPath)

			first, err := manager.CombineLeaderboards(sessionPath)
			Expect(err).To(BeNil())
			second, err := manager.CombineLeaderboards(sessionPath)
			Expect(err).To(BeNil())
			Expect(second).To(Equal(first))
		})
	})

	Context("BestStrategy", func() {
		It("Will resolve the strategy behind the top combined row", func() {
			better := &fakeStrategy{name: "better", score: 0.1}
			worse := &fakeStrategy{name: "worse", score: 9.9}
			manager := automl.NewManager(&atom, worse, better)
			manager.RunAll(context.Background(), emptyTable(), testParams(), sessionPath)

			best, err := manager.BestStrategy(sessionPath)
			Expect(err).To(BeNil())
			Expect(best.Name()).To(Equal("better"))
		})

		It("Will return ErrNoModelTrained for an empty combined leaderboard", func() {
			manager := automl.NewManager(&atom, &fakeStrategy{name: "never-ran"})

			_, err := manager.BestStrategy(sessionPath)
			Expect(err).ToNot(BeNil())
			Expect(errors.Is(err, domain.ErrNoModelTrained)).To(BeTrue())
		})
	})
})

// budgetRecorder records how much of the context deadline is left when its
// Train is entered, optionally burning wall-clock time afterwards.
type budgetRecorder struct {
	name      string
	remaining *[]time.Duration
	delay     time.Duration
}

func (s *budgetRecorder) Name() string { return s.name }

func (s *budgetRecorder) Train(ctx context.Context, _ *dataset.Table, _ *domain.TrainingParameters, _ string) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		return errors.New("expected a deadline on the training context")
	}
	*s.remaining = append(*s.remaining, time.Until(deadline))

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return nil
}

func (s *budgetRecorder) Predict(_ context.Context, _ *dataset.Table, _ *domain.TrainingParameters, _ string) (*dataset.Table, error) {
	return nil, nil
}

var _ = Describe("Leaderboard file Tests", func() {
	It("Will persist a combined leaderboard readable as CSV", func() {
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, automl.LeaderboardFileName)

		rows := []domain.LeaderboardRow{
			{Model: "Naive", Score: 0.9, Strategy: "ensemble"},
			{Model: "Drift", Score: 1.2, Strategy: "classical"},
		}
		Expect(automl.WriteLeaderboard(path, rows)).To(BeNil())

		content, err := os.ReadFile(path)
		Expect(err).To(BeNil())
		lines := strings.Split(strings.TrimSpace(string(content)), "\n")
		Expect(lines).To(HaveLen(3))
		Expect(lines[0]).To(ContainSubstring("model"))
		Expect(lines[0]).To(ContainSubstring("score_val"))
		Expect(lines[0]).To(ContainSubstring("strategy"))
		Expect(lines[1]).To(ContainSubstring("Naive"))
	})
})
