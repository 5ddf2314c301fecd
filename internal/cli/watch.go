package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tstore/tstore-desktop/internal/events"
	"github.com/tstore/tstore-desktop/internal/models"
)

// newWatchCmd creates the 'watch' command.
func newWatchCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow sync jobs, file changes and notifications",
		Long: `Print backend activity as it happens until interrupted: sync job
transitions, renamed and removed files, operation outcomes, notifications
and engine warnings.

Examples:
  tstore-client watch
  tstore-client watch --progress`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			engine, err := startEngine(ctx)
			if err != nil {
				return err
			}
			defer stopEngine(engine)

			types := []events.EventType{
				events.EventSyncJobChanged,
				events.EventFileRenamed,
				events.EventFileRemoved,
				events.EventOperationStarted,
				events.EventOperationSucceeded,
				events.EventOperationFailed,
				events.EventNotification,
				events.EventLog,
			}
			if showProgress {
				types = append(types, events.EventProgress)
			}

			bus := engine.Events()
			ch := bus.SubscribeMany(types...)
			defer bus.UnsubscribeAll(ch)

			out := cmd.OutOrStdout()
			totals := engine.Registry().Totals()
			fmt.Fprintf(out, "Watching %d files (%d local, %d cloud). Press Ctrl+C to stop.\n",
				totals.Files, totals.LocalFiles, totals.CloudFiles)

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-ch:
					if !ok {
						return nil
					}
					printEvent(out, ev)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", false, "Also print raw transfer progress readings")
	return cmd
}

// printEvent writes one line per event; unknown types are ignored.
func printEvent(w io.Writer, ev events.Event) {
	stamp := ev.Timestamp().Local().Format(time.TimeOnly)

	switch e := ev.(type) {
	case *events.SyncJobEvent:
		fmt.Fprintf(w, "%s  sync     %s\n", stamp, describeJob(e.Job))
	case *events.FileSetEvent:
		if e.Type() == events.EventFileRenamed {
			fmt.Fprintf(w, "%s  renamed  %s -> %s\n", stamp, e.Name, e.NewName)
		} else {
			fmt.Fprintf(w, "%s  removed  %s\n", stamp, e.Name)
		}
	case *events.OperationEvent:
		target := e.Key
		if target == "" {
			target = "(picked file)"
		}
		switch e.Type() {
		case events.EventOperationStarted:
			fmt.Fprintf(w, "%s  started  %s %s\n", stamp, e.Kind, target)
		case events.EventOperationSucceeded:
			fmt.Fprintf(w, "%s  done     %s %s\n", stamp, e.Kind, target)
		default:
			fmt.Fprintf(w, "%s  failed   %s %s: %v\n", stamp, e.Kind, target, e.Error)
		}
	case *events.NotificationEvent:
		fmt.Fprintf(w, "%s  %-7s  %s: %s\n", stamp, e.Level, e.Title, e.Message)
	case *events.LogEvent:
		fmt.Fprintf(w, "%s  %-7s  %s\n", stamp, e.Level, e.Message)
	case *events.ProgressEvent:
		key := e.Key
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(w, "%s  %-8s %s %.0f%%\n", stamp, e.Channel, key, e.Percentage)
	}
}

func describeJob(job models.SyncJob) string {
	switch job.State {
	case models.JobRunning:
		return fmt.Sprintf("%s running %.0f%%", job.Name, job.Percentage)
	case models.JobSucceeded:
		return fmt.Sprintf("%s finished in %s", job.Name, job.FinishedAt.Sub(job.StartedAt).Round(time.Second))
	case models.JobFailed:
		return fmt.Sprintf("%s failed: %s", job.Name, job.Message)
	default:
		return fmt.Sprintf("%s idle", job.Name)
	}
}
