package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/libris-dev/libris/internal/search"
)

func newSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>...",
		Short: "Search the library with a natural-language query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			engine := app.engine
			if limit > 0 {
				cfg := search.Config{
					MaxResults:     limit,
					RRFConstant:    app.cfg.Search.RRFConstant,
					KeywordWeight:  app.cfg.Search.KeywordWeight,
					SemanticWeight: app.cfg.Search.SemanticWeight,
				}
				engine = search.NewEngine(app.lib, app.embedder, cfg, app.logger)
			}

			query := strings.Join(args, " ")
			results, err := engine.Search(cmd.Context(), query)
			if err != nil {
				return err
			}

			printResults(query, results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of books to return")
	return cmd
}

func printResults(query string, results []*search.BookResult) {
	if len(results) == 0 {
		fmt.Println(dimStyle.Render("No matches for: " + query))
		return
	}

	for i, r := range results {
		header := fmt.Sprintf("%d. %s", i+1, r.Title)
		if r.Author != "" {
			header += " — " + r.Author
		}
		fmt.Println(boldStyle.Render(header))
		fmt.Println(dimStyle.Render(fmt.Sprintf("   %s | relevance %.4f | %d matching chunks",
			r.Filename, r.Relevance, r.MatchedChunks)))
		if r.BestMatch != "" {
			fmt.Println("   " + strings.ReplaceAll(r.BestMatch, "\n", " "))
		}
		fmt.Println()
	}
}
