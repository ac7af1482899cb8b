package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every book and rebuild an empty library",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			if !yes {
				fmt.Printf("This deletes all indexed books in %s. Type 'yes' to continue: ", app.lib.Dir())
				reader := bufio.NewReader(os.Stdin)
				answer, _ := reader.ReadString('\n')
				if strings.TrimSpace(answer) != "yes" {
					fmt.Println(dimStyle.Render("Aborted."))
					return nil
				}
			}

			if err := app.lib.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Println(successStyle.Render("Library reset."))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
