// Package training contains the session orchestrator that drives a
// training session through its state machine, and the background executor
// that decouples orchestration from the request path.
package training

import (
	"context"
	"fmt"
	"sync"

	"github.com/enriquebris/goconcurrentqueue"
	"github.com/mattn/go-colorable"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// submission pairs a queued task with the session it belongs to, for
// logging and for the panic guard.
type submission struct {
	sessionID string
	task      func()
}

// Executor runs submitted session tasks on a fixed worker pool over a
// bounded FIFO queue. Submit never blocks on the work itself: it either
// enqueues and returns, or fails fast when the queue is full.
type Executor struct {
	logger        *zap.Logger
	sugaredLogger *zap.SugaredLogger

	queue *goconcurrentqueue.FixedFIFO

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(workers, queueSize int, atom *zap.AtomicLevel) *Executor {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	executor := &Executor{
		queue: goconcurrentqueue.NewFixedFIFO(queueSize),
	}

	zapConfig := zap.NewDevelopmentEncoderConfig()
	zapConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zapConfig), zapcore.AddSync(colorable.NewColorableStdout()), atom)
	executor.logger = zap.New(core, zap.Development())
	executor.sugaredLogger = executor.logger.Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	executor.cancel = cancel

	for i := 0; i < workers; i++ {
		executor.wg.Add(1)
		go executor.worker(ctx, i)
	}

	executor.logger.Debug("Background executor started.",
		zap.Int("workers", workers), zap.Int("queue_size", queueSize))

	return executor
}

// Submit enqueues the task and returns immediately. It fails when the
// queue is full or the executor has been shut down; the task is never
// silently dropped.
func (e *Executor) Submit(sessionID string, task func()) error {
	if err := e.queue.Enqueue(submission{sessionID: sessionID, task: task}); err != nil {
		return fmt.Errorf("submitting task for session %q: %w", sessionID, err)
	}

	e.logger.Debug("Submitted background task.",
		zap.String("session_id", sessionID),
		zap.Int("queue_length", e.queue.GetLen()))

	return nil
}

// Shutdown stops the workers and waits for in-flight tasks to finish.
// Queued-but-unstarted tasks are abandoned; their sessions stay in their
// last persisted state.
func (e *Executor) Shutdown() {
	e.cancel()
	e.queue.Lock()
	e.wg.Wait()
	e.logger.Debug("Background executor stopped.")
}

func (e *Executor) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	for {
		item, err := e.queue.DequeueOrWaitForNextElementContext(ctx)
		if err != nil {
			return
		}

		sub, ok := item.(submission)
		if !ok {
			continue
		}

		e.logger.Debug("Worker picked up task.",
			zap.Int("worker", id), zap.String("session_id", sub.sessionID))
		e.runGuarded(sub)
	}
}

// runGuarded keeps a panicking task from taking the worker down with it.
// The orchestrator has its own recover that marks the session failed; this
// one only protects the pool.
func (e *Executor) runGuarded(sub submission) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Background task panicked.",
				zap.String("session_id", sub.sessionID),
				zap.Any("panic", r))
		}
	}()

	sub.task()
}
