package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/crossread/internal/orchestrator"
	"github.com/pders01/crossread/internal/search"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		providers []string
		page      int
		jsonOut   bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search every provider at once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return errors.New("empty query")
			}
			if page < 1 {
				page = 1
			}
			return ctx.withServices(func(s *services) error {
				selected, err := s.registry.Select(s.providerNames(providers))
				if err != nil {
					return err
				}
				run := orchestrator.New(s.cache).Search(cmd.Context(), orchestrator.Request{
					Query:      query,
					Page:       page,
					References: []string{query},
					Providers:  selected,
				})
				snap := run.Wait()
				if snap.Superseded {
					return orchestrator.ErrSuperseded
				}
				if jsonOut {
					return writeJSON(cmd, snap)
				}

				w := cmd.OutOrStdout()
				printProviders(w, snap.Providers)
				if len(snap.Results) == 0 {
					fmt.Fprintln(w, "No results")
					return nil
				}
				printCandidates(w, snap.Candidates())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&providers, "providers", nil, "Providers to search (default: providers.enabled)")
	cmd.Flags().IntVar(&page, "page", 1, "Result page")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

type findView struct {
	Kind       search.Kind `json:"kind"`
	ID         string      `json:"id,omitempty"`
	Title      string      `json:"title"`
	CatalogID  int         `json:"catalog_id,omitempty"`
	Provider   string      `json:"provider,omitempty"`
	ProviderID string      `json:"provider_id,omitempty"`
	Score      float64     `json:"score"`
}

func newFindCommand(ctx *commandContext) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "find <query>",
		Short: "Search the local library of links and reading history",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return ctx.withServices(func(s *services) error {
				searcher := s.searcher()
				results, err := searcher.Search(query, limit)
				if err != nil {
					return fmt.Errorf("search library: %w", err)
				}
				if jsonOut {
					views := make([]findView, 0, len(results))
					for _, r := range results {
						views = append(views, findView{
							Kind: r.Kind, ID: r.ID, Title: r.Title, CatalogID: r.CatalogID,
							Provider: r.Provider, ProviderID: r.ProviderID, Score: r.Score,
						})
					}
					return writeJSON(cmd, views)
				}

				w := cmd.OutOrStdout()
				if len(results) == 0 {
					fmt.Fprintln(w, "Nothing in the library matches")
					return nil
				}
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					ref := r.ID
					if r.Kind == search.KindMapping {
						ref = fmt.Sprintf("%d → %s/%s", r.CatalogID, r.Provider, r.ProviderID)
					}
					rows = append(rows, []string{string(r.Kind), r.Title, ref, fmt.Sprintf("%.2f", r.Score)})
				}
				fmt.Fprintln(w, renderTable([]string{"Kind", "Title", "Reference", "Score"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight}))
				if st, ok := searcher.(search.DebugStatser); ok {
					if n, err := st.DocCount(); err == nil {
						fmt.Fprintf(w, "%d of %d indexed documents\n", len(results), n)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}
