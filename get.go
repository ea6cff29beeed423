package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpkarjala/confluence-go/internal/adf"
)

// newGetCmd builds the get command: fetch a page into the cache and
// print it as plaintext.
func newGetCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "get <page>",
		Short: "Fetch a page into the cache and print its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()

			id, err := rt.api.ResolvePageID(ctx, args[0])
			if err != nil {
				return err
			}

			res, err := rt.engine.Fetch(ctx, id)
			if err != nil {
				return err
			}

			if res.DiscardedDirty {
				rt.logger.Warn("unpushed local edits were discarded", "page_id", id)
			}

			fmt.Printf("%s (v%d, id=%s)\n\n", res.Doc.Title, res.Doc.Version, res.Doc.ID)

			if raw {
				fmt.Println(string(res.Doc.Body))
				return nil
			}

			doc, err := adf.Parse(res.Doc.Body)
			if err != nil {
				return err
			}

			fmt.Print(adf.ExtractText(doc))

			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "print the raw ADF body instead of plaintext")

	return cmd
}
