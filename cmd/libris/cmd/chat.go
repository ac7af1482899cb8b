package cmd

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/libris-dev/libris/internal/async"
	"github.com/libris-dev/libris/internal/index"
)

func newChatCmd() *cobra.Command {
	var indexDir string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session: ask questions, index in the background",
		Long: `Chat starts an interactive prompt. Plain text runs a search; slash
commands manage the library:

  /index <dir>        index a directory in the foreground
  /index-bg <dir>     index a directory in the background
  /index-status       show background job progress
  /stats              show library statistics
  /quit               exit (finishes any in-flight book first)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			session := &chatSession{
				app:   app,
				coord: async.NewCoordinator(app.pipeline, app.logger),
			}
			if indexDir != "" {
				session.indexBackground(cmd, indexDir)
			}
			return session.run(cmd)
		},
	}

	cmd.Flags().StringVar(&indexDir, "index", "", "Index this directory in the background before the prompt starts")
	return cmd
}

type chatSession struct {
	app   *app
	coord *async.Coordinator
}

func (s *chatSession) run(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println(titleStyle.Render("Libris — ask about your books. /help for commands."))

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldStyle.Render("> "))
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := s.command(cmd, line); quit {
				break
			}
			continue
		}

		results, err := s.app.engine.Search(ctx, line)
		if err != nil {
			fmt.Println(errorStyle.Render("search failed: " + err.Error()))
			continue
		}
		printResults(line, results)
	}

	// Graceful exit: the in-flight book finishes and commits.
	if s.coord.Running() {
		fmt.Println(warnStyle.Render("Finishing the current book before exit..."))
	}
	return s.coord.Shutdown(cmd.Context())
}

// command handles one slash command; returns true to exit the session.
func (s *chatSession) command(cmd *cobra.Command, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true

	case "/help":
		fmt.Println(cmd.Long)

	case "/index":
		s.indexForeground(cmd, arg)

	case "/index-bg":
		s.indexBackground(cmd, arg)

	case "/index-status":
		s.printJobStatus()

	case "/stats":
		stats, err := s.app.lib.Stats(cmd.Context())
		if err != nil {
			fmt.Println(errorStyle.Render(err.Error()))
			return false
		}
		fmt.Printf("%d books, %d chunks in %s\n", stats.Books, stats.Chunks, s.app.lib.Dir())

	default:
		fmt.Println(warnStyle.Render("unknown command " + name + ", try /help"))
	}
	return false
}

func (s *chatSession) scanNew(cmd *cobra.Command, dir string) []string {
	if dir == "" {
		fmt.Println(warnStyle.Render("usage: /index <dir>"))
		return nil
	}
	result, err := s.app.scanner.ScanDir(cmd.Context(), expandPath(dir))
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return nil
	}
	fmt.Printf("%d new, %d already indexed, %d unsupported\n",
		len(result.New), len(result.Indexed), len(result.Unsupported))
	return result.New
}

func (s *chatSession) indexForeground(cmd *cobra.Command, dir string) {
	paths := s.scanNew(cmd, dir)
	if len(paths) == 0 {
		return
	}
	job := s.app.pipeline.IndexMany(cmd.Context(), paths, func(done, total int, outcome index.BookOutcome) {
		printOutcome(done, total, outcome)
	})
	printJobSummary(job.Indexed, job.Skipped, job.Failed, job.Cancelled, 0)
}

func (s *chatSession) indexBackground(cmd *cobra.Command, dir string) {
	paths := s.scanNew(cmd, dir)
	if len(paths) == 0 {
		return
	}
	jobID, err := s.coord.Start(cmd.Context(), paths)
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	fmt.Printf("Background job %s started over %d book(s). /index-status to check.\n",
		dimStyle.Render(jobID), len(paths))
}

func (s *chatSession) printJobStatus() {
	snap := s.coord.Status()
	if snap == nil {
		fmt.Println(dimStyle.Render("no background job has run yet"))
		return
	}

	line := fmt.Sprintf("job %s: %s [%d/%d] indexed=%d skipped=%d failed=%d elapsed=%s",
		snap.ID, snap.Status, snap.Done, snap.Total,
		snap.Indexed, snap.Skipped, snap.Failed,
		snap.Elapsed().Round(time.Second))
	switch snap.Status {
	case async.StatusFailed:
		fmt.Println(errorStyle.Render(line))
	case async.StatusCancelled:
		fmt.Println(warnStyle.Render(line))
	default:
		fmt.Println(line)
	}
	if snap.LastTitle != "" {
		fmt.Println(dimStyle.Render("last book: " + snap.LastTitle))
	}
}
