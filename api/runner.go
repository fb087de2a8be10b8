package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GoCodeAlone/contentflow/metrics"
	"github.com/GoCodeAlone/contentflow/pipeline"
	"github.com/GoCodeAlone/contentflow/store"
	"github.com/GoCodeAlone/contentflow/webhook"
)

// Executor runs a pipeline definition. *engine.Engine implements it.
type Executor interface {
	Run(ctx context.Context, def *pipeline.Definition, in pipeline.RunInput) (*pipeline.Artifact, error)
}

// Dispatcher hands a finished artifact to the queue consumer.
// *webhook.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, art *pipeline.Artifact) (*webhook.Delivery, error)
}

// runner executes pipelines and performs the post-run bookkeeping shared by
// the API and webhook triggers.
type runner struct {
	repo       store.Repository
	executor   Executor
	dispatcher Dispatcher
	metrics    *metrics.Collector
	logger     *slog.Logger
}

func (rn *runner) run(ctx context.Context, trigger string, def *pipeline.Definition, in pipeline.RunInput) (*pipeline.Artifact, error) {
	in.PipelineID = def.ID
	start := time.Now()
	art, err := rn.executor.Run(ctx, def, in)
	if err != nil {
		rn.metrics.RecordRun(trigger, "failed", time.Since(start))
		return nil, err
	}
	rn.metrics.RecordRun(trigger, "completed", time.Since(start))

	if err := rn.repo.RecordRun(ctx, def.ID, art.CompletedAt); err != nil {
		rn.logger.Warn("Failed to record pipeline run", "pipeline", def.ID, "error", err)
	}

	if rn.dispatcher != nil && art.Queue != nil {
		delivery, err := rn.dispatcher.Dispatch(ctx, art)
		switch {
		case err != nil:
			rn.metrics.RecordDelivery(string(webhook.StatusDeadLetter))
			rn.logger.Error("Queue dispatch failed", "pipeline", def.ID, "error", err)
			msg := "queue delivery failed"
			if delivery != nil {
				msg = fmt.Sprintf("queue delivery failed; stored as dead letter %s", delivery.ID)
			}
			art.Warnings = append(art.Warnings, msg)
		case delivery != nil:
			rn.metrics.RecordDelivery(string(delivery.Status))
		}
	}

	rn.logger.Info("Pipeline run completed",
		"pipeline", def.ID, "trigger", trigger, "segments", len(art.Segments), "warnings", len(art.Warnings))
	return art, nil
}
