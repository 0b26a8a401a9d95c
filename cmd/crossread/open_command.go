package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/crossread/internal/storage"
)

func newOpenCommand(ctx *commandContext) *cobra.Command {
	var (
		providerName string
		printOnly    bool
	)

	cmd := &cobra.Command{
		Use:   "open <catalog-id>",
		Short: "Open the linked provider page of a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid catalog id %q", args[0])
			}
			return ctx.withServices(func(s *services) error {
				mappings, err := s.store.MappingsForCatalog(id)
				if err != nil {
					return err
				}
				m := pickMapping(mappings, providerName)
				if m == nil {
					return fmt.Errorf("catalog %d is not linked; run resolve first", id)
				}
				p, err := s.registry.Get(m.Provider)
				if err != nil {
					return err
				}
				entry, err := p.Details(cmd.Context(), m.ProviderID)
				if err != nil {
					return fmt.Errorf("fetch %s entry: %w", m.Provider, err)
				}
				if entry.URL == "" {
					return fmt.Errorf("%s has no page for %s", m.Provider, m.ProviderID)
				}
				if printOnly {
					fmt.Fprintln(cmd.OutOrStdout(), entry.URL)
					return nil
				}
				if err := ctx.openURL(s.cfg, entry.URL); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Opened %s\n", entry.URL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "Provider link to open (default: the first one)")
	cmd.Flags().BoolVar(&printOnly, "print", false, "Print the URL instead of opening it")
	return cmd
}

func pickMapping(mappings []*storage.Mapping, providerName string) *storage.Mapping {
	for _, m := range mappings {
		if providerName == "" || m.Provider == providerName {
			return m
		}
	}
	return nil
}
