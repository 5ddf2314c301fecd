package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tstore/tstore-desktop/internal/core"
	"github.com/tstore/tstore-desktop/internal/models"
	"github.com/tstore/tstore-desktop/internal/operations"
	"github.com/tstore/tstore-desktop/internal/progress"
)

// newLsCmd creates the 'ls' command.
func newLsCmd() *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List stored files",
		Long: `List every file known to the backend with its storage tier, size and
description. The footer shows totals for the whole library.

Examples:
  tstore-client ls
  tstore-client ls --filter report`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := startEngine(GetContext())
			if err != nil {
				return err
			}
			defer stopEngine(engine)

			registry := engine.Registry()
			records := registry.Snapshot()
			if filter != "" {
				records = registry.Filter(filter)
			}

			renderFileTable(cmd.OutOrStdout(), records, registry.Totals())
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Only show names containing this text (case-insensitive)")
	return cmd
}

func renderFileTable(w io.Writer, records []models.FileRecord, totals models.Totals) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetHeader([]string{"Name", "State", "Size", "Uploaded", "Description"})

	for _, r := range records {
		uploaded := ""
		if !r.UploadedAt.IsZero() {
			uploaded = r.UploadedAt.Local().Format("2006-01-02 15:04")
		}
		table.Append([]string{
			r.Name,
			r.State.String(),
			formatSize(r.Size),
			uploaded,
			firstLine(r.Description, 40),
		})
	}

	count := fmt.Sprintf("%d files", totals.Files)
	if len(records) != totals.Files {
		count = fmt.Sprintf("%d of %d files", len(records), totals.Files)
	}
	table.SetFooter([]string{
		count,
		"",
		"",
		fmt.Sprintf("Local %.2f MB", totals.LocalMB()),
		fmt.Sprintf("Cloud %.2f MB", totals.CloudMB()),
	})

	table.Render()
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func firstLine(s string, max int) string {
	line, _, multi := strings.Cut(s, "\n")
	if runes := []rune(line); len(runes) > max {
		return string(runes[:max-3]) + "..."
	}
	if multi {
		return line + " ..."
	}
	return line
}

// newUploadCmd creates the 'upload' command.
func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload [path]",
		Short: "Upload a local file",
		Long: `Upload a file into storage. Without a path the backend opens its file
chooser. Only one upload runs at a time.

Examples:
  tstore-client upload ~/Documents/report.pdf
  tstore-client upload`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			var path string
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return fmt.Errorf("invalid path: %w", err)
				}
				info, err := os.Stat(abs)
				if err != nil {
					return fmt.Errorf("cannot upload %s: %w", args[0], err)
				}
				if info.IsDir() {
					return fmt.Errorf("cannot upload %s: is a directory", args[0])
				}
				path = abs
			}

			engine, err := startEngine(ctx)
			if err != nil {
				return err
			}
			defer stopEngine(engine)

			var task *operations.Task
			description := "Uploading"
			if path == "" {
				task, err = engine.UploadPicked(ctx)
				if errors.Is(err, core.ErrCancelled) {
					fmt.Fprintln(cmd.OutOrStdout(), "No file selected")
					return nil
				}
			} else {
				description = "Uploading " + filepath.Base(path)
				task, err = engine.Coordinator().Upload(ctx, path)
			}
			if err != nil {
				return err
			}

			bar := progress.NewSingleBar(description)
			followed := bar.Follow(task.Progress())
			err = task.Wait(ctx)
			if err == nil {
				<-followed
			}
			bar.Finish(err)
			return err
		},
	}
}

// newDownloadCmd creates the 'download' command.
func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <name> [name...]",
		Short: "Restore offloaded files to the sync folder",
		Long: `Download one or more Cloud files back to the sync folder. Each file is
an independent operation; one failure does not stop the others.

Examples:
  tstore-client download report.pdf
  tstore-client download a.txt b.txt c.txt`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, operations.KindDownload, args)
		},
	}
}

// newOffloadCmd creates the 'offload' command.
func newOffloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "offload <name> [name...]",
		Short: "Drop local copies, keeping files in cloud storage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, operations.KindOffload, args)
		},
	}
}

// newRmCmd creates the 'rm' command.
func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name> [name...]",
		Aliases: []string{"delete"},
		Short:   "Delete files from storage",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd, operations.KindDelete, args)
		},
	}
}

func bulkVerb(kind operations.Kind) string {
	switch kind {
	case operations.KindDownload:
		return "Downloading"
	case operations.KindOffload:
		return "Offloading"
	default:
		return "Deleting"
	}
}

// skipReason reports why kind makes no sense for rec, or "" if it does.
func skipReason(kind operations.Kind, rec models.FileRecord) string {
	switch {
	case kind == operations.KindDownload && rec.State == models.StateLocal:
		return "already local"
	case kind == operations.KindOffload && rec.State == models.StateCloud:
		return "already in cloud"
	}
	return ""
}

// runBulk checks the named files, runs kind over the checked set and prints
// one outcome per file.
func runBulk(cmd *cobra.Command, kind operations.Kind, names []string) error {
	ctx := GetContext()
	out := cmd.OutOrStdout()

	engine, err := startEngine(ctx)
	if err != nil {
		return err
	}
	defer stopEngine(engine)

	registry := engine.Registry()
	defer registry.ClearChecked()

	var unknown []string
	for _, name := range names {
		rec, ok := registry.Find(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		if reason := skipReason(kind, rec); reason != "" {
			fmt.Fprintf(out, "- %s: %s\n", name, reason)
			continue
		}
		registry.SetChecked(name, true)
	}
	for _, name := range unknown {
		fmt.Fprintf(out, "✗ %s: %v\n", name, core.ErrUnknownFile)
	}

	checked := registry.Checked()
	if len(checked) == 0 {
		if len(unknown) > 0 {
			return fmt.Errorf("%s: %d unknown file(s)", kind.Label(), len(unknown))
		}
		return nil
	}

	coord := engine.Coordinator()
	var batch *operations.Batch
	switch kind {
	case operations.KindDownload:
		batch = coord.DownloadMany(ctx, checked)
	case operations.KindOffload:
		batch = coord.OffloadMany(ctx, checked)
	default:
		batch = coord.DeleteMany(ctx, checked)
	}

	ui := progress.NewBarsUI(len(checked))
	verb := bulkVerb(kind)
	bars := make(map[string]*progress.FileBar)
	for i, task := range batch.Tasks() {
		fb := ui.AddBar(i+1, verb, task.Key)
		bars[task.Key] = fb
		if sub := task.Progress(); sub != nil {
			fb.Follow(sub)
		}
		go func(t *operations.Task, fb *progress.FileBar) {
			<-t.Done()
			fb.Complete(t.Err())
		}(task, fb)
	}

	outcomes, err := batch.Wait(ctx)
	for _, o := range outcomes {
		if fb, ok := bars[o.Key]; ok {
			fb.Complete(o.Err)
		} else if o.Rejected {
			fmt.Fprintf(ui.Writer(), "✗ %s: already in progress\n", o.Key)
		}
	}
	if err != nil {
		// Interrupted; tasks keep running until engine shutdown drains them
		for _, fb := range bars {
			fb.Complete(err)
		}
		ui.Wait()
		return err
	}
	ui.Wait()

	if len(unknown) > 0 {
		outcomes = append(outcomes, unknownOutcomes(kind, unknown)...)
	}
	return outcomeError(kind.Label(), outcomes)
}

func unknownOutcomes(kind operations.Kind, names []string) []operations.Outcome {
	out := make([]operations.Outcome, 0, len(names))
	for _, n := range names {
		out = append(out, operations.Outcome{Kind: kind, Key: n, Err: core.ErrUnknownFile})
	}
	return out
}
