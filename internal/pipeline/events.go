package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Event is published on the bus after each stage.
type Event struct {
	BatchID string          `json:"batchId"`
	Topic   string          `json:"topic"`
	Summary *domain.Summary `json:"summary"`
}

func (p *Pipeline) publish(ctx context.Context, topic string, sum *domain.Summary) {
	if p.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(Event{BatchID: sum.BatchID, Topic: topic, Summary: sum})
	if err != nil {
		slog.Error("failed to marshal stage event", "topic", topic, "error", err)
		return
	}
	if err := p.deps.Bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish stage event",
			"batch_id", sum.BatchID,
			"topic", topic,
			"error", err,
		)
	}
}

// track stores the batch as running. Batches submitted through the API
// already exist; others are created here.
func (p *Pipeline) track(ctx context.Context, r *run) {
	repo := p.deps.Repo
	if repo == nil {
		return
	}
	err := repo.UpdateBatch(ctx, r.batch)
	if errors.Is(err, repository.ErrNotFound) {
		err = repo.CreateBatch(ctx, r.batch)
	}
	if err != nil {
		slog.Warn("failed to track batch", "batch_id", r.batch.ID, "error", err)
	}
}

// finish stores the final batch state and summary.
func (p *Pipeline) finish(ctx context.Context, r *run) error {
	if repo := p.deps.Repo; repo != nil {
		if err := repo.UpdateBatch(ctx, r.batch); err != nil {
			return fmt.Errorf("failed to save batch summary: %w", err)
		}
	}
	return nil
}
