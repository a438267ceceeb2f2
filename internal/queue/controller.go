package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/velvacloud/queued/internal/events"
	"github.com/velvacloud/queued/internal/otelsetup"
	"github.com/velvacloud/queued/internal/storage"
)

// Controller runs operator and worker actions against the store and
// publishes exactly one change event per affected queue per call. Bulk
// operations (drain, clean) still produce a single event, not one per job.
type Controller struct {
	store *storage.Store
	bus   *events.Bus
}

// NewController wires the store to the notification bus.
func NewController(store *storage.Store, bus *events.Bus) *Controller {
	return &Controller{store: store, bus: bus}
}

// Enqueue adds a job to the queue, delayed if delay > 0.
func (c *Controller) Enqueue(ctx context.Context, queue, name string, payload json.RawMessage, delay time.Duration) (*storage.Job, error) {
	j, err := c.store.Enqueue(queue, name, payload, delay)
	if err != nil {
		return nil, err
	}
	otelsetup.AddJobsEnqueued(ctx, 1)
	c.publish(queue)
	return j, nil
}

// Pause stops the queue from handing out waiting jobs. Idempotent.
func (c *Controller) Pause(ctx context.Context, queue string) error {
	if err := c.store.Pause(queue); err != nil {
		return err
	}
	otelsetup.AddOperatorOps(ctx, "pause")
	c.publish(queue)
	return nil
}

// Resume re-enables claiming. Idempotent.
func (c *Controller) Resume(ctx context.Context, queue string) error {
	if err := c.store.Resume(queue); err != nil {
		return err
	}
	otelsetup.AddOperatorOps(ctx, "resume")
	c.publish(queue)
	return nil
}

// Drain removes all waiting and delayed jobs, leaving active work alone.
func (c *Controller) Drain(ctx context.Context, queue string) (int64, error) {
	n, err := c.store.Drain(queue)
	if err != nil {
		return 0, err
	}
	otelsetup.AddOperatorOps(ctx, "drain")
	c.publish(queue)
	return n, nil
}

// Clean bulk-removes terminal jobs in the given state.
func (c *Controller) Clean(ctx context.Context, queue string, state storage.JobState) (int64, error) {
	n, err := c.store.Clean(queue, state)
	if err != nil {
		return 0, err
	}
	otelsetup.AddOperatorOps(ctx, "clean")
	c.publish(queue)
	return n, nil
}

// RetryJob moves a failed job back to waiting.
func (c *Controller) RetryJob(ctx context.Context, queue string, id int64) (*storage.Job, error) {
	j, err := c.store.Retry(queue, id)
	if err != nil {
		return nil, err
	}
	otelsetup.AddOperatorOps(ctx, "retry")
	c.publish(queue)
	return j, nil
}

// PromoteJob makes a delayed job immediately eligible.
func (c *Controller) PromoteJob(ctx context.Context, queue string, id int64) (*storage.Job, error) {
	j, err := c.store.Promote(queue, id)
	if err != nil {
		return nil, err
	}
	otelsetup.AddOperatorOps(ctx, "promote")
	c.publish(queue)
	return j, nil
}

// RemoveJob deletes a job in any state. A missing id is still a success.
func (c *Controller) RemoveJob(ctx context.Context, queue string, id int64) error {
	if err := c.store.Remove(queue, id); err != nil {
		return err
	}
	otelsetup.AddOperatorOps(ctx, "remove")
	c.publish(queue)
	return nil
}

// ClaimNext hands the oldest waiting job to a worker, or nil if the queue is
// paused or empty.
func (c *Controller) ClaimNext(ctx context.Context, queue string) (*storage.Job, error) {
	j, err := c.store.ClaimNext(queue)
	if err != nil || j == nil {
		return j, err
	}
	c.publish(queue)
	return j, nil
}

// ReportResult records a worker's outcome for an active job.
func (c *Controller) ReportResult(ctx context.Context, queue string, id int64, out storage.Outcome) (*storage.Job, error) {
	j, err := c.store.ReportResult(queue, id, out)
	if err != nil {
		return nil, err
	}
	c.publish(queue)
	return j, nil
}

func (c *Controller) publish(queue string) {
	c.bus.Publish(queue)
	otelsetup.AddEventsPublished(context.Background(), 1)
	log.Printf("[queue] change event published for %q", queue)
}
