package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var books bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show library statistics and lock state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.lib.Stats(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Library: " + app.lib.Dir()))
			fmt.Printf("  Books:  %d\n", stats.Books)
			fmt.Printf("  Chunks: %d\n", stats.Chunks)

			record, err := app.lib.LockInfo()
			if err != nil {
				return err
			}
			if record == nil {
				fmt.Println("  Lock:   " + successStyle.Render("free"))
			} else {
				fmt.Printf("  Lock:   %s\n", warnStyle.Render(fmt.Sprintf(
					"held by pid %d on %s (heartbeat %s ago)",
					record.PID, record.Hostname,
					time.Since(record.HeartbeatAt).Round(time.Second))))
			}

			if books {
				list, err := app.lib.ListBooks(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println(boldStyle.Render("Books"))
				for _, b := range list {
					line := fmt.Sprintf("  %s", b.Title)
					if b.Author != "" {
						line += " — " + b.Author
					}
					fmt.Println(line)
					fmt.Println(dimStyle.Render(fmt.Sprintf("    %s, indexed %s",
						b.Filename, b.IndexedAt.Format("2006-01-02 15:04"))))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&books, "books", false, "List every indexed book")
	return cmd
}
