package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newPushCmd builds the push command: publish staged edits for a page.
func newPushCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "push <page-id>",
		Short: "Push staged local edits to Confluence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			if message == "" {
				message = "Updated via confluence-go"
			}

			res, err := rt.engine.Push(cmd.Context(), args[0], message)
			if err != nil {
				return err
			}

			if res.NoOp {
				fmt.Printf("%s has no staged edits, nothing to push\n", args[0])
				return nil
			}

			fmt.Printf("Pushed %q to v%d (%d attempt(s))\n", res.Doc.Title, res.Doc.Version, res.Attempts)

			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "version message describing the change")

	return cmd
}
