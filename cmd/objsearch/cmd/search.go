package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/reefdata/objsearch/internal/search"
)

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var (
		searchType     string
		groups         []int
		from           int
		size           int
		includeDeleted bool
		jsonOutput     bool
	)

	cmd := &cobra.Command{
		Use:   "search [query text]",
		Short: "Query the search index",
		Long: `Query the search index. With no query text every visible object
matches. Private objects are visible only for access groups passed via
--groups; public objects are always visible.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cleanup, err := loadConfig()
			if err != nil {
				return err
			}
			defer cleanup()

			index, err := search.Open(cfg.Index.Path)
			if err != nil {
				return fmt.Errorf("opening search index: %w", err)
			}
			defer index.Close()

			q := search.Query{
				Text:           strings.Join(args, " "),
				SearchType:     searchType,
				AccessGroupIDs: groups,
				IncludeDeleted: includeDeleted,
				From:           from,
				Size:           size,
			}
			results, total, err := index.Search(cmd.Context(), q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Total   int             `json:"total"`
					Results []search.Result `json:"results"`
				}{total, results})
			}
			fmt.Fprintf(out, "%d matching objects\n", total)
			for _, r := range results {
				visibility := "private"
				if r.Public {
					visibility = "public"
				}
				fmt.Fprintf(out, "%s\t%s\t%q by %s (%s, %s)\n",
					r.GUID, r.Type, r.Name, r.Creator, visibility,
					r.Timestamp.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&searchType, "type", "t", "", "Restrict to one search type name")
	cmd.Flags().IntSliceVarP(&groups, "groups", "g", nil, "Access groups the caller belongs to")
	cmd.Flags().IntVar(&from, "from", 0, "Result offset for paging")
	cmd.Flags().IntVar(&size, "size", 25, "Maximum number of results")
	cmd.Flags().BoolVar(&includeDeleted, "deleted", false, "Include deleted objects")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	return cmd
}
