package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/libris-dev/libris/internal/async"
	liberrors "github.com/libris-dev/libris/internal/errors"
	"github.com/libris-dev/libris/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and index new books as they appear",
		Long: `Watch monitors the directory for new or changed book files and hands
them to a background indexing job once they stop changing. Ctrl-C
finishes the current book, commits it, and exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			dir := expandPath(args[0])
			coord := async.NewCoordinator(app.pipeline, app.logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handler := func(paths []string) {
				result, err := app.scanner.Scan(ctx, paths)
				if err != nil {
					fmt.Println(errorStyle.Render("scan failed: " + err.Error()))
					return
				}
				if len(result.New) == 0 {
					return
				}
				jobID, err := coord.Start(ctx, result.New)
				if err != nil {
					// A running job means the files will be picked up by
					// the next settled batch; just report and move on.
					if liberrors.GetCode(err) == liberrors.ErrCodeJobRunning {
						fmt.Println(dimStyle.Render("indexing already in progress, will retry"))
					} else {
						fmt.Println(errorStyle.Render("failed to start job: " + err.Error()))
					}
					return
				}
				fmt.Printf("%s %d new book(s), job %s\n",
					titleStyle.Render("Indexing:"), len(result.New), dimStyle.Render(jobID))
			}

			w := watcher.New(dir, debounce, handler, app.logger)
			fmt.Println(titleStyle.Render("Watching " + dir + " (Ctrl-C to stop)"))

			err = w.Run(ctx)

			// Graceful exit: let the in-flight book finish and commit.
			if coord.Running() {
				fmt.Println(warnStyle.Render("Finishing the current book..."))
			}
			if shutdownErr := coord.Shutdown(cmd.Context()); shutdownErr != nil {
				return shutdownErr
			}
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", watcher.DefaultDebounce, "How long a file must stay quiet before indexing")
	return cmd
}
