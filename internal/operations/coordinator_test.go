package operations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/gateway/gatewaytest"
	"github.com/tstore/tstore-desktop/internal/models"
	"github.com/tstore/tstore-desktop/internal/notify"
	"github.com/tstore/tstore-desktop/internal/progress"
	"github.com/tstore/tstore-desktop/internal/state"
)

type fixture struct {
	backend  *gatewaytest.Backend
	registry *state.Registry
	progress *progress.Manager
	notifier *notify.Notifier
	bus      *events.EventBus
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	backend := gatewaytest.New(
		models.FileRecord{Name: "a.txt", State: models.StateLocal, Size: 1000},
		models.FileRecord{Name: "b.txt", State: models.StateLocal, Size: 2000},
		models.FileRecord{Name: "c.txt", State: models.StateCloud, Size: 3000},
	)
	bus := events.NewEventBus(100)
	t.Cleanup(bus.Close)

	f := &fixture{
		backend:  backend,
		bus:      bus,
		registry: state.NewRegistry(backend, bus, state.WithCoalesceWindow(50*time.Millisecond)),
		progress: progress.NewManager(bus, nil),
		notifier: notify.NewNotifier(notify.DefaultConfig(), bus, nil),
	}
	f.coord = NewCoordinator(backend, f.registry,
		WithProgress(f.progress),
		WithNotifier(f.notifier),
		WithEventBus(bus),
	)

	require.NoError(t, f.registry.Refresh(context.Background()))
	return f
}

func (f *fixture) fetches() int {
	return f.backend.TotalCalls(gatewaytest.OpFetch)
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestDuplicateTriggerIssuesOneRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gate := f.backend.Block(gatewaytest.OpDelete, "a.txt")

	task, err := f.coord.Delete(ctx, "a.txt")
	require.NoError(t, err)
	waitClosed(t, gate.Entered())

	assert.True(t, f.coord.IsPending(KindDelete, "a.txt"))
	assert.True(t, f.coord.PendingKind(KindDelete))
	assert.False(t, f.coord.IsPending(KindOffload, "a.txt"), "Other kinds on the same key are independent")

	_, err = f.coord.Delete(ctx, "a.txt")
	assert.ErrorIs(t, err, ErrAlreadyPending)

	gate.Release()
	require.NoError(t, task.Wait(ctx))

	assert.Equal(t, 1, f.backend.Calls(gatewaytest.OpDelete, "a.txt"))
	assert.False(t, f.coord.IsPending(KindDelete, "a.txt"))
	assert.False(t, f.coord.PendingKind(KindDelete))
}

func TestSuccessesCoalesceIntoOneRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.fetches()

	t1, err := f.coord.Offload(ctx, "a.txt")
	require.NoError(t, err)
	t2, err := f.coord.Offload(ctx, "b.txt")
	require.NoError(t, err)

	waitClosed(t, t1.Refreshed())
	waitClosed(t, t2.Refreshed())

	assert.Equal(t, before+1, f.fetches(), "Two successes inside one window share a refetch")
}

func TestOffloadReflectedAfterRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.coord.Offload(ctx, "a.txt")
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))
	waitClosed(t, task.Refreshed())

	rec, ok := f.registry.Find("a.txt")
	require.True(t, ok)
	assert.Equal(t, models.StateCloud, rec.State)
}

func TestFailedDeleteKeepsSnapshotAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.fetches()

	boom := errors.New("telegram unavailable")
	f.backend.Fail(gatewaytest.OpDelete, "a.txt", boom)

	task, err := f.coord.Delete(ctx, "a.txt")
	require.NoError(t, err)

	err = task.Wait(ctx)
	require.ErrorIs(t, err, boom)
	assert.ErrorIs(t, task.Err(), boom)

	recent := f.notifier.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "Delete failed", recent[0].Title)
	assert.Contains(t, recent[0].Message, "a.txt")
	assert.Contains(t, recent[0].Message, "telegram unavailable")

	_, ok := f.registry.Find("a.txt")
	assert.True(t, ok, "Registry must not change after a failure")
	assert.Equal(t, before, f.fetches(), "No refetch after a failure")
	assert.False(t, f.coord.IsPending(KindDelete, "a.txt"))

	// Not retried automatically, but the user may trigger again
	f.backend.Fail(gatewaytest.OpDelete, "a.txt", nil)
	task, err = f.coord.Delete(ctx, "a.txt")
	require.NoError(t, err)
	require.NoError(t, task.Wait(ctx))
	assert.Equal(t, 2, f.backend.Calls(gatewaytest.OpDelete, "a.txt"))
}

func TestBulkDeletePartialFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.backend.Fail(gatewaytest.OpDelete, "a.txt", errors.New("locked"))

	batch := f.coord.DeleteMany(ctx, []string{"a.txt", "b.txt", "a.txt", ""})
	assert.Equal(t, []string{"a.txt", "b.txt"}, batch.Keys())

	outcomes, err := batch.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	failed := Failed(outcomes)
	require.Len(t, failed, 1)
	assert.Equal(t, "a.txt", failed[0].Key)
	assert.False(t, failed[0].Rejected)
	assert.True(t, outcomes[1].OK())

	for _, task := range batch.Tasks() {
		waitClosed(t, task.Refreshed())
	}

	_, ok := f.registry.Find("a.txt")
	assert.True(t, ok)
	_, ok = f.registry.Find("b.txt")
	assert.False(t, ok)

	recent := f.notifier.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "Delete failed", recent[0].Title)
}

func TestBulkReportsAlreadyPendingKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gate := f.backend.Block(gatewaytest.OpOffload, "a.txt")
	first, err := f.coord.Offload(ctx, "a.txt")
	require.NoError(t, err)
	waitClosed(t, gate.Entered())

	batch := f.coord.OffloadMany(ctx, []string{"a.txt", "b.txt"})
	assert.Len(t, batch.Tasks(), 1)

	gate.Release()
	outcomes, err := batch.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Rejected)
	assert.ErrorIs(t, outcomes[0].Err, ErrAlreadyPending)
	assert.True(t, outcomes[1].OK())

	require.NoError(t, first.Wait(ctx))
	assert.Equal(t, 1, f.backend.Calls(gatewaytest.OpOffload, "a.txt"))
}

func TestDownloadProgressSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gate := f.backend.Block(gatewaytest.OpDownload, "c.txt")
	task, err := f.coord.Download(ctx, "c.txt")
	require.NoError(t, err)

	sub := task.Progress()
	require.NotNil(t, sub)
	assert.Equal(t, gateway.ChannelDownload, sub.Channel())
	assert.Equal(t, "c.txt", sub.Key())
	assert.Equal(t, 0.0, sub.Latest())

	f.progress.Handle(&events.ProgressEvent{
		BaseEvent:  events.BaseEvent{EventType: events.EventProgress, Time: time.Now()},
		Channel:    string(gateway.ChannelDownload),
		Key:        "c.txt",
		Percentage: 42,
	})
	assert.Equal(t, 42.0, sub.Latest())

	gate.Release()
	require.NoError(t, task.Wait(ctx))
	assert.True(t, sub.Disposed(), "Subscription is released when the task settles")
	assert.Equal(t, 0, f.progress.ActiveSubscriptions())
}

func TestUploadUsesFixedKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gate := f.backend.Block(gatewaytest.OpUpload, "/tmp/one.txt")
	task, err := f.coord.Upload(ctx, "/tmp/one.txt")
	require.NoError(t, err)
	waitClosed(t, gate.Entered())

	require.NotNil(t, task.Progress())
	assert.Equal(t, gateway.ChannelUpload, task.Progress().Channel())
	assert.True(t, f.coord.IsPending(KindUpload, UploadKey))

	_, err = f.coord.Upload(ctx, "/tmp/two.txt")
	assert.ErrorIs(t, err, ErrAlreadyPending)
	assert.Equal(t, 0, f.backend.Calls(gatewaytest.OpUpload, "/tmp/two.txt"))

	gate.Release()
	require.NoError(t, task.Wait(ctx))
	waitClosed(t, task.Refreshed())

	_, ok := f.registry.Find("one.txt")
	assert.True(t, ok)
}

func TestDetachKeepsTaskRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	gate := f.backend.Block(gatewaytest.OpDownload, "c.txt")
	task, err := f.coord.Download(ctx, "c.txt")
	require.NoError(t, err)

	task.Detach()
	assert.True(t, task.Progress().Disposed())
	assert.True(t, f.coord.IsPending(KindDownload, "c.txt"))

	gate.Release()
	require.NoError(t, task.Wait(ctx))
	waitClosed(t, task.Refreshed())

	rec, ok := f.registry.Find("c.txt")
	require.True(t, ok)
	assert.Equal(t, models.StateLocal, rec.State)
}

func TestExecuteCancelDoesNotAbortRequest(t *testing.T) {
	f := newFixture(t)

	gate := f.backend.Block(gatewaytest.OpUpdateDescription, "a.txt")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.coord.Execute(ctx, KindUpdateDescription, "a.txt", func(ctx context.Context) error {
		return f.backend.UpdateDescription(ctx, "a.txt", "quarterly numbers")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, f.coord.IsPending(KindUpdateDescription, "a.txt"))

	gate.Release()
	require.NoError(t, f.coord.WaitIdle(context.Background(), KindUpdateDescription, "a.txt"))

	desc, ok := f.backend.LastDescription("a.txt")
	require.True(t, ok)
	assert.Equal(t, "quarterly numbers", desc)
}

func TestPanicReleasesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.coord.Execute(ctx, KindOffload, "a.txt", func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.False(t, f.coord.IsPending(KindOffload, "a.txt"))
}

func TestWaitIdleRespectsContext(t *testing.T) {
	f := newFixture(t)

	gate := f.backend.Block(gatewaytest.OpOffload, "b.txt")
	defer gate.Release()

	_, err := f.coord.Offload(context.Background(), "b.txt")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.coord.WaitIdle(ctx, KindOffload, "b.txt"), context.DeadlineExceeded)

	assert.NoError(t, f.coord.WaitIdle(context.Background(), KindOffload, "missing.txt"))
}

func TestPendingOrderAndDrain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g1 := f.backend.Block(gatewaytest.OpOffload, "a.txt")
	g2 := f.backend.Block(gatewaytest.OpOffload, "b.txt")

	_, err := f.coord.Offload(ctx, "a.txt")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = f.coord.Offload(ctx, "b.txt")
	require.NoError(t, err)

	pending := f.coord.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a.txt", pending[0].Key)
	assert.Equal(t, "b.txt", pending[1].Key)
	assert.NotEqual(t, pending[0].ID, pending[1].ID)

	g1.Release()
	g2.Release()
	require.NoError(t, f.coord.Drain(ctx))
	assert.Empty(t, f.coord.Pending())
}

func TestDrainCoversTasksStartedWhileWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g1 := f.backend.Block(gatewaytest.OpOffload, "a.txt")
	g2 := f.backend.Block(gatewaytest.OpOffload, "b.txt")

	first, err := f.coord.Offload(ctx, "a.txt")
	require.NoError(t, err)

	drained := make(chan error, 1)
	go func() { drained <- f.coord.Drain(ctx) }()

	_, err = f.coord.Offload(ctx, "b.txt")
	require.NoError(t, err)

	g1.Release()
	require.NoError(t, first.Wait(ctx))

	select {
	case <-drained:
		t.Fatal("Drain returned while b.txt was still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	g2.Release()
	select {
	case err := <-drained:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Drain did not return after all tasks settled")
	}
	assert.Empty(t, f.coord.Pending())
}

func TestConcurrentStartAndDrain(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const starters = 20
	var wg sync.WaitGroup
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.coord.Start(ctx, Kind("touch"), fmt.Sprintf("f%d", i), func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.coord.Drain(ctx))
		}()
	}
	wg.Wait()

	require.NoError(t, f.coord.Drain(ctx))
	assert.Empty(t, f.coord.Pending())
}

func TestLifecycleEventsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ch := f.bus.SubscribeMany(events.EventOperationStarted, events.EventOperationSucceeded, events.EventOperationFailed)

	f.backend.Fail(gatewaytest.OpOffload, "b.txt", errors.New("quota"))
	require.NoError(t, f.coord.Execute(ctx, KindOffload, "a.txt", func(ctx context.Context) error {
		return f.backend.Offload(ctx, "a.txt")
	}))
	_, _ = f.coord.Offload(ctx, "b.txt")
	require.NoError(t, f.coord.Drain(ctx))

	var got []events.EventType
	for len(got) < 4 {
		select {
		case ev := <-ch:
			got = append(got, ev.Type())
		case <-time.After(time.Second):
			t.Fatalf("only %d lifecycle events received", len(got))
		}
	}

	assert.Equal(t, []events.EventType{
		events.EventOperationStarted,
		events.EventOperationSucceeded,
		events.EventOperationStarted,
		events.EventOperationFailed,
	}, got)
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "Delete", KindDelete.Label())
	assert.Equal(t, "Description update", KindUpdateDescription.Label())
	assert.Equal(t, "custom", Kind("custom").Label())
}
