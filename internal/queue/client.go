package queue

import (
	"context"

	"github.com/propline/campaign-engine/internal/models"
)

// Client defines the interface for queue operations. The queue carries
// batch-resume jobs: both batch continuation and retry re-entry go
// through it rather than through an HTTP call back into the API.
type Client interface {
	// Publish sends a batch job to the queue
	Publish(ctx context.Context, job *models.BatchJob) error

	// Consume receives jobs from the queue and processes them with the
	// handler. concurrency controls how many jobs run simultaneously.
	Consume(ctx context.Context, handler JobHandler, concurrency int) error

	// Close closes the queue connection
	Close() error

	// Health checks if the queue is healthy
	Health(ctx context.Context) error
}

// JobHandler is a function that processes a batch job
type JobHandler func(ctx context.Context, job *models.BatchJob) error
