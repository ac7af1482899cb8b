package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/libris-dev/libris/internal/async"
	"github.com/libris-dev/libris/internal/index"
)

func newIndexCmd() *cobra.Command {
	var background bool

	cmd := &cobra.Command{
		Use:   "index <dir-or-file>...",
		Short: "Index book files into the library",
		Long: `Index scans the given directories and files, skips books that are
already indexed, and indexes the rest one at a time. Each book commits
as a single atomic batch; Ctrl-C stops after the current book.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			paths, err := collectCandidates(cmd, app, args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				fmt.Println(successStyle.Render("Nothing to index: everything is up to date."))
				return nil
			}

			if background {
				return runBackground(cmd, app, paths)
			}
			return runForeground(cmd, app, paths)
		},
	}

	cmd.Flags().BoolVar(&background, "background", false, "Run the job in the background and wait, reporting progress from status snapshots")
	return cmd
}

// collectCandidates expands args into supported files and pre-flight
// scans them, printing the summary.
func collectCandidates(cmd *cobra.Command, app *app, args []string) ([]string, error) {
	var candidates []string
	for _, arg := range args {
		path := expandPath(arg)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if info.IsDir() {
			found, err := app.scanner.Discover(path)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, found...)
		} else {
			candidates = append(candidates, path)
		}
	}

	result, err := app.scanner.Scan(cmd.Context(), candidates)
	if err != nil {
		return nil, err
	}

	fmt.Printf("%s %d new, %d already indexed, %d unsupported\n",
		titleStyle.Render("Pre-flight:"),
		len(result.New), len(result.Indexed), len(result.Unsupported))
	for _, path := range result.Unsupported {
		fmt.Println(warnStyle.Render("  skipping unsupported: " + path))
	}
	return result.New, nil
}

func runForeground(cmd *cobra.Command, app *app, paths []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	job := app.pipeline.IndexMany(ctx, paths, func(done, total int, outcome index.BookOutcome) {
		printOutcome(done, total, outcome)
	})

	printJobSummary(job.Indexed, job.Skipped, job.Failed, job.Cancelled, time.Since(start))
	if job.Failed > 0 {
		return fmt.Errorf("%d of %d books failed to index", job.Failed, len(paths))
	}
	return nil
}

// runBackground hands the job to the coordinator and polls its status
// snapshots, which is exactly what a long-lived host process would do.
func runBackground(cmd *cobra.Command, app *app, paths []string) error {
	coord := async.NewCoordinator(app.pipeline, app.logger)

	jobID, err := coord.Start(cmd.Context(), paths)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s\n", titleStyle.Render("Background job started:"), dimStyle.Render(jobID))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var lastDone int
	for {
		select {
		case <-ctx.Done():
			fmt.Println(warnStyle.Render("Interrupt received, finishing the current book..."))
			if err := coord.Shutdown(cmd.Context()); err != nil {
				return err
			}
		case <-ticker.C:
		}

		snap := coord.Status()
		if snap == nil {
			continue
		}
		if snap.Done > lastDone {
			lastDone = snap.Done
			fmt.Printf("  %s [%d/%d] indexed=%d skipped=%d failed=%d\n",
				dimStyle.Render("progress"), snap.Done, snap.Total,
				snap.Indexed, snap.Skipped, snap.Failed)
		}
		if snap.Status.Terminal() {
			printJobSummary(snap.Indexed, snap.Skipped, snap.Failed,
				snap.Status == async.StatusCancelled, snap.Elapsed())
			if snap.Failed > 0 {
				return fmt.Errorf("%d of %d books failed to index", snap.Failed, snap.Total)
			}
			return nil
		}
	}
}

func printOutcome(done, total int, outcome index.BookOutcome) {
	prefix := fmt.Sprintf("[%d/%d]", done, total)
	switch {
	case outcome.Err != nil:
		fmt.Printf("%s %s: %v\n", prefix, errorStyle.Render("failed "+outcome.Path), outcome.Err)
	case outcome.Skipped:
		fmt.Printf("%s %s\n", prefix, dimStyle.Render("skipped "+outcome.Path))
	default:
		fmt.Printf("%s %s (%d chunks)\n", prefix,
			successStyle.Render("indexed "+outcome.Title), outcome.Chunks)
	}
}

func printJobSummary(indexed, skipped, failed int, cancelled bool, elapsed time.Duration) {
	status := successStyle.Render("Done.")
	if cancelled {
		status = warnStyle.Render("Cancelled.")
	}
	line := fmt.Sprintf("%s %d indexed, %d skipped, %d failed",
		status, indexed, skipped, failed)
	if elapsed > 0 {
		line += " in " + elapsed.Round(time.Millisecond).String()
	}
	fmt.Println(line)
}
