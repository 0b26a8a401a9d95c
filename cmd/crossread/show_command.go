package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/pders01/crossread/internal/catalog"
	"github.com/pders01/crossread/internal/history"
	"github.com/pders01/crossread/internal/storage"
)

const showWordWrap = 80

func newShowCommand(ctx *commandContext) *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "show <catalog-id>",
		Short: "Show a catalog entry with its links and reading progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid catalog id %q", args[0])
			}
			return ctx.withServices(func(s *services) error {
				entry, err := s.catalog.GetByID(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("fetch catalog entry %d: %w", id, err)
				}
				mappings, err := s.store.MappingsForCatalog(id)
				if err != nil {
					return err
				}
				item, err := s.ledger.GetItem(history.Keys{CatalogID: id})
				if err != nil && !errors.Is(err, storage.ErrNotFound) {
					return err
				}

				doc := showMarkdown(entry, mappings, item)
				if plain {
					fmt.Fprint(cmd.OutOrStdout(), doc)
					return nil
				}
				style := glamour.WithStandardStyle("notty")
				if isTerminal(cmd.OutOrStdout()) {
					style = glamour.WithAutoStyle()
				}
				r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(showWordWrap))
				if err != nil {
					return fmt.Errorf("markdown renderer: %w", err)
				}
				rendered, err := r.Render(doc)
				if err != nil {
					return fmt.Errorf("render: %w", err)
				}
				fmt.Fprint(cmd.OutOrStdout(), rendered)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print raw markdown")
	return cmd
}

func showMarkdown(e *catalog.Entry, mappings []*storage.Mapping, item *storage.HistoryItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", e.DisplayTitle())

	var alt []string
	for _, t := range []string{e.English, e.Romaji, e.Native} {
		if t != "" && t != e.DisplayTitle() {
			alt = append(alt, t)
		}
	}
	alt = append(alt, e.Synonyms...)
	if len(alt) > 0 {
		fmt.Fprintf(&b, "*%s*\n\n", strings.Join(alt, " · "))
	}

	fmt.Fprintf(&b, "- **Catalog id:** %d\n", e.ID)
	if e.Status != "" {
		fmt.Fprintf(&b, "- **List status:** %s\n", e.Status)
	}
	progress := "untracked"
	if e.Progress != nil {
		progress = strconv.Itoa(*e.Progress)
	}
	if e.Chapters != nil {
		progress += fmt.Sprintf(" / %d", *e.Chapters)
	}
	fmt.Fprintf(&b, "- **Catalog progress:** %s\n\n", progress)

	b.WriteString("## Links\n\n")
	if len(mappings) == 0 {
		b.WriteString("Not linked to any provider.\n\n")
	} else {
		b.WriteString("| Provider | Id | Title |\n|---|---|---|\n")
		for _, m := range mappings {
			fmt.Fprintf(&b, "| %s | %s | %s |\n", m.Provider, m.ProviderID, strings.ReplaceAll(m.Title, "|", "/"))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Reading\n\n")
	if item == nil {
		b.WriteString("Nothing read on this device.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "- **Chapters read:** %d\n", len(item.ReadChapters))
	if item.LastChapterID != "" {
		last := item.LastChapterNumber
		if last == "" {
			last = item.LastChapterID
		}
		if item.LastChapterTitle != "" {
			last += " (" + item.LastChapterTitle + ")"
		}
		fmt.Fprintf(&b, "- **Last opened:** %s\n", last)
	}
	if !item.LastReadAt.IsZero() {
		fmt.Fprintf(&b, "- **Last read:** %s\n", item.LastReadAt.Format("2006-01-02 15:04"))
	}
	return b.String()
}
