package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <dir>",
		Short: "Show which books in a directory would be indexed",
		Long: `Scan walks the directory and reports which supported book files are
new, which are already indexed, and which are unsupported. Nothing is
modified and no lock is taken.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.scanner.ScanDir(cmd.Context(), expandPath(args[0]))
			if err != nil {
				return err
			}

			fmt.Println(titleStyle.Render("Scan results"))
			section := func(label string, style styledRenderer, paths []string) {
				fmt.Printf("%s (%d)\n", boldStyle.Render(label), len(paths))
				for _, p := range paths {
					fmt.Println("  " + style.Render(p))
				}
			}
			section("New", successStyle, result.New)
			section("Already indexed", dimStyle, result.Indexed)
			section("Unsupported", warnStyle, result.Unsupported)
			return nil
		},
	}
}

// styledRenderer lets sections share a printer across styles.
type styledRenderer interface {
	Render(...string) string
}
