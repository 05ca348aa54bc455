// Package worker runs submitted batches asynchronously from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// BatchRunner runs one batch. *pipeline.Pipeline implements it.
type BatchRunner interface {
	Run(ctx context.Context, batch *domain.Batch, records []map[string]any) (*pipeline.Output, error)
}

// Worker consumes kestrel.batch.submitted and runs each batch.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	runner BatchRunner

	sem           chan struct{}
	subscriptions []domain.Subscription
	mu            sync.Mutex
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of batches run at once.
	WorkerCount int
}

// BatchMessage is the payload of kestrel.batch.submitted.
type BatchMessage struct {
	BatchID string           `json:"batchId"`
	AuditID string           `json:"auditId"`
	Module  domain.Module    `json:"module"`
	Rows    []map[string]any `json:"rows"`
}

// NewWorker creates a new async worker. repo may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, runner BatchRunner) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to submitted batches.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicBatchSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("batch worker started",
		"topic", domain.TopicBatchSubmitted,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleMessage parses a submission and hands it to the pool. It blocks
// while every worker is busy.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var m BatchMessage
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	select {
	case w.sem <- struct{}{}: // Acquire
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }() // Release
		w.processBatch(m)
	}()
	return nil
}

func (w *Worker) processBatch(m BatchMessage) {
	start := time.Now()
	batch := &domain.Batch{ID: m.BatchID, AuditID: m.AuditID, Module: m.Module}

	slog.Debug("processing batch",
		"batch_id", m.BatchID,
		"module", m.Module,
		"rows", len(m.Rows),
	)

	out, err := w.runBatch(batch, m.Rows)
	if err != nil {
		slog.Error("batch failed",
			"batch_id", m.BatchID,
			"error", err,
		)
		w.markFailed(batch, err)
		return
	}

	slog.Info("batch processed",
		"batch_id", out.Batch.ID,
		"flagged_rows", out.Summary.FlaggedRows,
		"duplicate_groups", out.Summary.DuplicateGroups,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) runBatch(batch *domain.Batch, rows []map[string]any) (out *pipeline.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.runner.Run(w.ctx, batch, rows)
}

func (w *Worker) markFailed(batch *domain.Batch, cause error) {
	if w.repo == nil || batch.ID == "" {
		return
	}
	batch.Status = domain.BatchFailed
	batch.Summary = &domain.Summary{
		BatchID:     batch.ID,
		Module:      batch.Module,
		StageErrors: []domain.StageError{{Stage: "submit", Error: cause.Error()}},
	}
	if err := w.repo.UpdateBatch(w.ctx, batch); err != nil {
		slog.Error("failed to mark batch failed",
			"batch_id", batch.ID,
			"error", err,
		)
	}
}

// Submit publishes a batch for asynchronous processing and returns its ID.
func Submit(ctx context.Context, bus domain.EventBus, m BatchMessage) (string, error) {
	if !m.Module.Valid() {
		return "", fmt.Errorf("unknown module %q", m.Module)
	}
	if len(m.Rows) == 0 {
		return "", errors.New("batch has no rows")
	}
	if m.BatchID == "" {
		m.BatchID = uuid.New().String()
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}
	if err := bus.Publish(ctx, domain.TopicBatchSubmitted, payload); err != nil {
		return "", err
	}
	return m.BatchID, nil
}

// Stop unsubscribes and waits for running batches to finish.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()
	w.cancel()

	slog.Info("batch worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Running           int      `json:"running"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Running:           len(w.sem),
	}
}
