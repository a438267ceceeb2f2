package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velvacloud/queued/internal/events"
	"github.com/velvacloud/queued/internal/storage"
)

func newTestController(t *testing.T) (*Controller, *storage.Store, *events.Bus) {
	t.Helper()
	s, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	bus := events.NewBus()
	return NewController(s, bus), s, bus
}

// drainAfterNotify waits for one bus signal and returns the changed queues.
func drainAfterNotify(t *testing.T, sub *events.Subscription) []string {
	t.Helper()
	select {
	case <-sub.Notify():
	case <-time.After(time.Second):
		t.Fatal("expected a change notification")
	}
	return sub.Drain()
}

func TestCleanEmitsSingleEvent(t *testing.T) {
	ctrl, s, bus := newTestController(t)
	ctx := context.Background()

	// Five completed jobs in one queue.
	for i := 0; i < 5; i++ {
		j, err := ctrl.Enqueue(ctx, "provision", "job", json.RawMessage(`{}`), 0)
		require.NoError(t, err)
		_, err = s.ClaimNext("provision")
		require.NoError(t, err)
		_, err = s.ReportResult("provision", j.ID, storage.Outcome{Success: true})
		require.NoError(t, err)
	}

	sub := bus.Subscribe()
	defer sub.Close()

	n, err := ctrl.Clean(ctx, "provision", storage.StateCompleted)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	queues := drainAfterNotify(t, sub)
	assert.Equal(t, []string{"provision"}, queues,
		"bulk clean notifies once per queue, not once per job")
}

func TestOperatorActionsPublish(t *testing.T) {
	ctrl, _, bus := newTestController(t)
	ctx := context.Background()

	sub := bus.Subscribe()
	defer sub.Close()

	_, err := ctrl.Enqueue(ctx, "provision", "job", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))

	require.NoError(t, ctrl.Pause(ctx, "provision"))
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))

	require.NoError(t, ctrl.Resume(ctx, "provision"))
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))

	n, err := ctrl.Drain(ctx, "provision")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))
}

func TestRetryPromoteRemoveViaController(t *testing.T) {
	ctrl, s, bus := newTestController(t)
	ctx := context.Background()

	failed, err := ctrl.Enqueue(ctx, "provision", "bad", nil, 0)
	require.NoError(t, err)
	_, err = s.ClaimNext("provision")
	require.NoError(t, err)
	_, err = s.ReportResult("provision", failed.ID, storage.Outcome{Reason: "boom"})
	require.NoError(t, err)

	delayed, err := ctrl.Enqueue(ctx, "provision", "later", nil, time.Hour)
	require.NoError(t, err)

	sub := bus.Subscribe()
	defer sub.Close()

	j, err := ctrl.RetryJob(ctx, "provision", failed.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StateWaiting, j.State)
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))

	j, err = ctrl.PromoteJob(ctx, "provision", delayed.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StateWaiting, j.State)
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))

	require.NoError(t, ctrl.RemoveJob(ctx, "provision", j.ID))
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))

	// A failed operation publishes nothing.
	_, err = ctrl.RetryJob(ctx, "provision", delayed.ID)
	require.Error(t, err)
	select {
	case <-sub.Notify():
		t.Fatal("failed retry must not notify")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClaimAndReportViaController(t *testing.T) {
	ctrl, _, bus := newTestController(t)
	ctx := context.Background()

	j, err := ctrl.Enqueue(ctx, "provision", "work", nil, 0)
	require.NoError(t, err)

	sub := bus.Subscribe()
	defer sub.Close()

	claimed, err := ctrl.ClaimNext(ctx, "provision")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, j.ID, claimed.ID)
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))

	// Empty queue: no job, no event.
	claimed, err = ctrl.ClaimNext(ctx, "provision")
	require.NoError(t, err)
	assert.Nil(t, claimed)
	select {
	case <-sub.Notify():
		t.Fatal("empty claim must not notify")
	case <-time.After(50 * time.Millisecond):
	}

	done, err := ctrl.ReportResult(ctx, "provision", j.ID, storage.Outcome{Success: true})
	require.NoError(t, err)
	assert.Equal(t, storage.StateCompleted, done.State)
	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))
}

func TestPromoterMovesDueJobs(t *testing.T) {
	ctrl, s, bus := newTestController(t)
	ctx := context.Background()

	j, err := ctrl.Enqueue(ctx, "provision", "soon", nil, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, storage.StateDelayed, j.State)

	sub := bus.Subscribe()
	defer sub.Close()

	p := NewPromoter(s, bus, 20*time.Millisecond)
	p.Start()
	defer p.Stop()

	assert.Equal(t, []string{"provision"}, drainAfterNotify(t, sub))

	got, err := s.Get("provision", j.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StateWaiting, got.State)
}
