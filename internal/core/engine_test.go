package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tstore/tstore-desktop/internal/config"
	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/gateway"
	"github.com/tstore/tstore-desktop/internal/gateway/gatewaytest"
	"github.com/tstore/tstore-desktop/internal/models"
	"github.com/tstore/tstore-desktop/internal/operations"
)

func testConfig() *config.ClientConfig {
	cfg := config.NewClientConfig()
	cfg.Editor.AutosaveDelaySeconds = 3600
	cfg.Registry.RefreshCoalesceMs = 5
	return cfg
}

func seedBackend() *gatewaytest.Backend {
	return gatewaytest.New(
		models.FileRecord{Name: "a.txt", State: models.StateLocal, Size: 100, Description: "first"},
		models.FileRecord{Name: "b.txt", State: models.StateCloud, Size: 200, Description: "second"},
	)
}

func startEngine(t *testing.T, backend *gatewaytest.Backend) *Engine {
	t.Helper()

	engine, err := NewEngine(backend, testConfig(), nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	t.Cleanup(func() { engine.Stop() })

	// Wait for the event stream subscription
	eventually(t, func() bool { return backend.Subscribers() == 1 })
	return engine
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewEngine(t *testing.T) {
	if _, err := NewEngine(nil, nil, nil); err == nil {
		t.Error("Expected error for nil backend")
	}

	engine, err := NewEngine(seedBackend(), nil, nil)
	if err != nil {
		t.Fatalf("Failed to create engine with nil config: %v", err)
	}
	if engine.Events() == nil || engine.Registry() == nil || engine.Coordinator() == nil {
		t.Error("Components should be initialized")
	}
	if engine.Editor().Delay() != 60*time.Second {
		t.Errorf("Expected default autosave delay, got %v", engine.Editor().Delay())
	}

	bad := config.NewClientConfig()
	bad.Editor.AutosaveDelaySeconds = 0
	if _, err := NewEngine(seedBackend(), bad, nil); !errors.Is(err, config.ErrInvalidAutosaveDelay) {
		t.Errorf("Expected ErrInvalidAutosaveDelay, got %v", err)
	}
}

func TestEngine_StartStop(t *testing.T) {
	engine, err := NewEngine(seedBackend(), testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if engine.Registry().Count() != 2 {
		t.Errorf("Expected initial refresh to load 2 files, got %d", engine.Registry().Count())
	}
	if err := engine.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}

	if err := engine.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestEngine_InitialRefreshFailure(t *testing.T) {
	backend := seedBackend()
	backend.Fail(gatewaytest.OpFetch, "", errors.New("backend starting"))

	engine, _ := NewEngine(backend, testConfig(), nil)
	defer engine.Stop()

	if err := engine.Start(context.Background()); err == nil {
		t.Fatal("Expected initial refresh error")
	}
	if engine.Registry().Count() != 0 {
		t.Error("Snapshot should stay empty")
	}
	if len(engine.Notifier().Recent()) != 1 {
		t.Errorf("Expected one notification, got %d", len(engine.Notifier().Recent()))
	}
}

func TestEngine_WarningsReachEventBus(t *testing.T) {
	backend := seedBackend()
	backend.Fail(gatewaytest.OpFetch, "", errors.New("backend starting"))

	engine, _ := NewEngine(backend, testConfig(), nil)
	defer engine.Stop()
	logCh := engine.Events().Subscribe(events.EventLog)

	if err := engine.Start(context.Background()); err == nil {
		t.Fatal("Expected initial refresh error")
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-logCh:
			logEv := ev.(*events.LogEvent)
			if logEv.Level == events.WarnLevel && strings.Contains(logEv.Message, "refresh failed") {
				return
			}
		case <-deadline:
			t.Fatal("Refresh warning never reached the event bus")
		}
	}
}

func TestEngine_DownloadProgressFromBackend(t *testing.T) {
	backend := seedBackend()
	engine := startEngine(t, backend)
	ctx := context.Background()

	gate := backend.Block(gatewaytest.OpDownload, "b.txt")
	task, err := engine.Coordinator().Download(ctx, "b.txt")
	if err != nil {
		t.Fatal(err)
	}

	backend.Emit(gateway.DownloadProgress("b.txt", 30))
	backend.Emit(gateway.DownloadProgress("other.txt", 90))

	sub := task.Progress()
	eventually(t, func() bool { return sub.Latest() == 30 })

	gate.Release()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	<-task.Refreshed()

	rec, _ := engine.Registry().Find("b.txt")
	if rec.State != models.StateLocal {
		t.Errorf("Expected b.txt Local after download, got %s", rec.State)
	}
}

func TestEngine_FileRemovedEventRefreshes(t *testing.T) {
	backend := seedBackend()
	engine := startEngine(t, backend)

	backend.SetFiles(models.FileRecord{Name: "a.txt"})
	backend.Emit(gateway.Event{Name: gateway.EventFileRemoved, File: "b.txt"})

	eventually(t, func() bool {
		_, ok := engine.Registry().Find("b.txt")
		return !ok
	})
}

func TestEngine_SyncJobTracking(t *testing.T) {
	backend := seedBackend()
	engine := startEngine(t, backend)

	backend.Emit(gateway.Event{Name: gateway.EventSyncStart, Job: "nightly"})
	backend.Emit(gateway.Event{Name: gateway.EventSyncProgress, Job: "nightly", Percentage: 45})

	eventually(t, func() bool {
		job, ok := engine.Progress().Jobs().Current()
		return ok && job.Percentage == 45
	})

	backend.Emit(gateway.Event{Name: gateway.EventSyncError, Job: "nightly", Message: "quota exceeded"})
	eventually(t, func() bool {
		_, active := engine.Progress().Jobs().Current()
		return !active
	})

	status := engine.Status()
	if status.CurrentJob != nil {
		t.Error("Expected no current job")
	}
	if status.LastJob == nil || status.LastJob.State != models.JobFailed || status.LastJob.Message != "quota exceeded" {
		t.Errorf("Unexpected last job: %+v", status.LastJob)
	}
}

func TestEngine_FocusRebindsEditor(t *testing.T) {
	backend := seedBackend()
	engine := startEngine(t, backend)
	editor := engine.Editor()

	engine.Registry().Select("a.txt")
	eventually(t, func() bool { return editor.Key() == "a.txt" })
	if editor.Value() != "first" {
		t.Errorf("Expected editor to show 'first', got %q", editor.Value())
	}

	editor.OnChange("revised")
	engine.Registry().Select("b.txt")

	// Moving focus flushes the pending edit for the previous file
	eventually(t, func() bool {
		desc, ok := backend.LastDescription("a.txt")
		return ok && desc == "revised"
	})
	eventually(t, func() bool { return editor.Key() == "b.txt" })
	if editor.Value() != "second" {
		t.Errorf("Expected editor to show 'second', got %q", editor.Value())
	}

	// Toggle off clears the binding
	engine.Registry().Select("b.txt")
	eventually(t, func() bool { return editor.Key() == "" })
}

func TestEngine_EditDescriptionFlushedOnStop(t *testing.T) {
	backend := seedBackend()
	engine, _ := NewEngine(backend, testConfig(), nil)
	if err := engine.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	field, err := engine.EditDescription("b.txt")
	if err != nil {
		t.Fatalf("EditDescription failed: %v", err)
	}
	field.OnChange("line one")
	field.OnChange("line one\nline two")

	if err := engine.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	desc, ok := backend.LastDescription("b.txt")
	if !ok || desc != "line one\nline two" {
		t.Errorf("Expected final text committed, got %q", desc)
	}
	if backend.Calls(gatewaytest.OpUpdateDescription, "b.txt") != 1 {
		t.Errorf("Expected exactly one commit, got %d", backend.Calls(gatewaytest.OpUpdateDescription, "b.txt"))
	}

	if _, err := engine.EditDescription("missing.txt"); !errors.Is(err, ErrUnknownFile) {
		t.Errorf("Expected ErrUnknownFile, got %v", err)
	}
}

func TestEngine_BackendConfig(t *testing.T) {
	backend := seedBackend()
	engine := startEngine(t, backend)
	ctx := context.Background()

	want := models.Config{BotToken: "123:abc", ChatID: "-100", SyncFolder: "/sync"}
	if err := engine.UpdateBackendConfig(ctx, want); err != nil {
		t.Fatalf("UpdateBackendConfig failed: %v", err)
	}
	got, err := engine.BackendConfig(ctx)
	if err != nil || got != want {
		t.Errorf("BackendConfig: %+v, %v", got, err)
	}

	backend.Fail(gatewaytest.OpUpdateConfig, "", errors.New("read-only"))
	if err := engine.UpdateBackendConfig(ctx, want); err == nil {
		t.Error("Expected update failure")
	}
	recent := engine.Notifier().Recent()
	if last := recent[len(recent)-1]; last.Title != "Settings update failed" {
		t.Errorf("Expected failure notification, got %+v", last)
	}
}

func TestEngine_Pickers(t *testing.T) {
	backend := seedBackend()
	engine := startEngine(t, backend)
	ctx := context.Background()

	if _, err := engine.PickSyncFolder(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
	if _, err := engine.UploadPicked(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}

	backend.SetPicks("/home/u/new.txt", "/home/u/sync")

	dir, err := engine.PickSyncFolder(ctx)
	if err != nil || dir != "/home/u/sync" {
		t.Errorf("PickSyncFolder: %q, %v", dir, err)
	}

	task, err := engine.UploadPicked(ctx)
	if err != nil {
		t.Fatalf("UploadPicked failed: %v", err)
	}
	if task.Kind != operations.KindUpload || task.Key != operations.UploadKey {
		t.Errorf("Unexpected task: %s/%s", task.Kind, task.Key)
	}
	if err := task.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	<-task.Refreshed()

	if _, ok := engine.Registry().Find("new.txt"); !ok {
		t.Error("Uploaded file should appear after refresh")
	}
}
