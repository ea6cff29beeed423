package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newCacheCmd builds the cache command group: list, evict, clear.
func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the local page cache",
	}

	cmd.AddCommand(newCacheListCmd())
	cmd.AddCommand(newCacheEvictCmd())
	cmd.AddCommand(newCacheClearCmd())

	return cmd
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			entries, err := rt.engine.List(cmd.Context())
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("cache is empty")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVERSION\tDIRTY\tFETCHED\tTITLE")

			for _, e := range entries {
				dirty := ""
				if e.Dirty {
					dirty = "*"
				}

				fmt.Fprintf(w, "%s\tv%d\t%s\t%s\t%s\n",
					e.ID, e.Version, dirty, e.FetchedAt.Format("2006-01-02 15:04"), e.Title)
			}

			return w.Flush()
		},
	}
}

func newCacheEvictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evict <page-id>",
		Short: "Drop one page from the cache, discarding any unpushed edits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			return rt.engine.Evict(cmd.Context(), args[0])
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the whole page cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			return rt.engine.EvictAll(cmd.Context())
		},
	}
}
