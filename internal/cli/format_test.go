package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/models"
	"github.com/tstore/tstore-desktop/internal/operations"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{3 * 1024 * 1024 * 1024, "3.0 GiB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.in); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("short", 40); got != "short" {
		t.Errorf("Unexpected: %q", got)
	}
	if got := firstLine("one\ntwo", 40); got != "one ..." {
		t.Errorf("Unexpected: %q", got)
	}
	if got := firstLine(strings.Repeat("x", 50), 10); got != "xxxxxxx..." {
		t.Errorf("Unexpected: %q", got)
	}
}

func TestFirstLine_Multibyte(t *testing.T) {
	got := firstLine("Квартальный отчёт для бухгалтерии", 10)
	if got != "Квартал..." {
		t.Errorf("Unexpected: %q", got)
	}
	if !utf8.ValidString(got) {
		t.Errorf("Result is not valid UTF-8: %q", got)
	}
	if got := firstLine("отчёт", 10); got != "отчёт" {
		t.Errorf("Short multibyte line should be unchanged, got %q", got)
	}
}

func TestMaskToken(t *testing.T) {
	tests := map[string]string{
		"":                   "(not set)",
		"short":              "********",
		"123456:ABCDEFGHIJK": "1234...HIJK",
		"ключ-доступа":       "ключ...тупа",
	}
	for in, want := range tests {
		if got := maskToken(in); got != want {
			t.Errorf("maskToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSkipReason(t *testing.T) {
	local := models.FileRecord{Name: "a", State: models.StateLocal}
	cloud := models.FileRecord{Name: "b", State: models.StateCloud}

	if skipReason(operations.KindDownload, local) == "" {
		t.Error("Download of local file should be skipped")
	}
	if skipReason(operations.KindOffload, cloud) == "" {
		t.Error("Offload of cloud file should be skipped")
	}
	if skipReason(operations.KindDelete, local) != "" || skipReason(operations.KindDelete, cloud) != "" {
		t.Error("Delete applies to every tier")
	}
	if skipReason(operations.KindDownload, cloud) != "" {
		t.Error("Download of cloud file should run")
	}
}

func TestOutcomeError(t *testing.T) {
	ok := operations.Outcome{Kind: operations.KindDelete, Key: "a"}
	bad := operations.Outcome{Kind: operations.KindDelete, Key: "b", Err: errors.New("boom")}
	busy := operations.Outcome{Kind: operations.KindDelete, Key: "c", Err: operations.ErrAlreadyPending, Rejected: true}

	if err := outcomeError("Delete", []operations.Outcome{ok}); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
	if err := outcomeError("Delete", []operations.Outcome{ok, bad}); err == nil || err.Error() != "Delete: 1 of 2 failed" {
		t.Errorf("Unexpected error: %v", err)
	}
	err := outcomeError("Delete", []operations.Outcome{ok, bad, busy})
	if err == nil || err.Error() != "Delete: 2 of 3 failed (1 already in progress)" {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestRenderFileTable(t *testing.T) {
	records := []models.FileRecord{
		{Name: "a.txt", State: models.StateLocal, Size: 2048, Description: "notes\nmore"},
		{Name: "c.txt", State: models.StateCloud, Size: 10},
	}
	totals := models.Totals{Files: 2, LocalFiles: 1, CloudFiles: 1, LocalBytes: 2048, CloudBytes: 10}

	var buf bytes.Buffer
	renderFileTable(&buf, records, totals)
	out := buf.String()

	for _, want := range []string{"Name", "a.txt", "local", "2.0 KiB", "notes ...", "cloud", "2 files"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in table:\n%s", want, out)
		}
	}
}

func TestPrintEvent(t *testing.T) {
	now := time.Now()
	base := func(et events.EventType) events.BaseEvent { return events.BaseEvent{EventType: et, Time: now} }

	tests := []struct {
		name string
		ev   events.Event
		want string
	}{
		{
			"sync running",
			&events.SyncJobEvent{BaseEvent: base(events.EventSyncJobChanged), Job: models.SyncJob{Name: "nightly", State: models.JobRunning, Percentage: 40}, Active: true},
			"nightly running 40%",
		},
		{
			"sync failed",
			&events.SyncJobEvent{BaseEvent: base(events.EventSyncJobChanged), Job: models.SyncJob{Name: "nightly", State: models.JobFailed, Message: "quota"}},
			"nightly failed: quota",
		},
		{
			"renamed",
			&events.FileSetEvent{BaseEvent: base(events.EventFileRenamed), Name: "old.txt", NewName: "new.txt"},
			"old.txt -> new.txt",
		},
		{
			"removed",
			&events.FileSetEvent{BaseEvent: base(events.EventFileRemoved), Name: "gone.txt"},
			"removed  gone.txt",
		},
		{
			"upload started",
			&events.OperationEvent{BaseEvent: base(events.EventOperationStarted), Kind: "upload"},
			"started  upload (picked file)",
		},
		{
			"delete failed",
			&events.OperationEvent{BaseEvent: base(events.EventOperationFailed), Kind: "delete", Key: "a.txt", Error: errors.New("boom")},
			"failed   delete a.txt: boom",
		},
		{
			"notification",
			&events.NotificationEvent{BaseEvent: base(events.EventNotification), Level: events.ErrorLevel, Title: "Delete failed", Message: "a.txt"},
			"Delete failed: a.txt",
		},
		{
			"engine warning",
			&events.LogEvent{BaseEvent: base(events.EventLog), Level: events.WarnLevel, Message: "File list refresh failed"},
			"File list refresh failed",
		},
		{
			"progress",
			&events.ProgressEvent{BaseEvent: base(events.EventProgress), Channel: "download", Key: "c.txt", Percentage: 62.4},
			"c.txt 62%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printEvent(&buf, tt.ev)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("Expected %q in %q", tt.want, buf.String())
			}
		})
	}
}
