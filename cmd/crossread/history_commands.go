package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pders01/crossread/internal/history"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/storage"
)

// keyFlags are the identifiers a history command can address a series by.
type keyFlags struct {
	series     string
	catalog    int
	provider   string
	providerID string
	title      string
}

func (k *keyFlags) add(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&k.series, "series", "", "Series id")
	flags.IntVar(&k.catalog, "catalog", 0, "Catalog id")
	flags.StringVar(&k.provider, "provider", "", "Provider name")
	flags.StringVar(&k.providerID, "provider-id", "", "Provider series id")
	flags.StringVar(&k.title, "title", "", "Series title")
}

func (k *keyFlags) keys() (history.Keys, error) {
	keys := history.Keys{
		SeriesID:         strings.TrimSpace(k.series),
		CatalogID:        k.catalog,
		Provider:         strings.TrimSpace(k.provider),
		ProviderSeriesID: strings.TrimSpace(k.providerID),
		Title:            strings.TrimSpace(k.title),
	}
	if keys == (history.Keys{}) {
		return keys, errors.New("name the series with --series, --catalog, --provider/--provider-id or --title")
	}
	return keys, nil
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and edit local reading history",
	}

	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryOpenCommand(ctx))
	historyCmd.AddCommand(newHistoryToggleCommand(ctx))
	historyCmd.AddCommand(newHistoryMarkUpToCommand(ctx))
	historyCmd.AddCommand(newHistoryMarkRangeCommand(ctx))
	historyCmd.AddCommand(newHistoryReadThroughCommand(ctx))
	historyCmd.AddCommand(newHistoryClearCommand(ctx))
	historyCmd.AddCommand(newHistoryClearAllCommand(ctx))

	return historyCmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var (
		kf      keyFlags
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List reading history, or one series with key flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withServices(func(s *services) error {
				w := cmd.OutOrStdout()
				if keys, err := kf.keys(); err == nil {
					item, err := s.ledger.GetItem(keys)
					if errors.Is(err, storage.ErrNotFound) {
						return errors.New("no history for that series")
					}
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(cmd, item)
					}
					printHistory(w, []*storage.HistoryItem{item})
					fmt.Fprintf(w, "Read: %s\n", strings.Join(item.ReadChapters, ", "))
					return nil
				}

				items, err := s.ledger.All()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(w, "No reading history")
					return nil
				}
				printHistory(w, items)
				return nil
			})
		},
	}
	kf.add(cmd)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	return cmd
}

func printHistory(w io.Writer, items []*storage.HistoryItem) {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		catalogID := ""
		if it.CatalogID != 0 {
			catalogID = strconv.Itoa(it.CatalogID)
		}
		source := ""
		if it.Provider != "" {
			source = it.Provider + "/" + it.ProviderSeriesID
		}
		last := it.LastChapterNumber
		if last == "" {
			last = it.LastChapterID
		}
		rows = append(rows, []string{it.Title, catalogID, source, last, strconv.Itoa(len(it.ReadChapters))})
	}
	fmt.Fprintln(w, renderTable([]string{"Title", "Catalog", "Source", "Last", "Read"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight}))
}

func newHistoryOpenCommand(ctx *commandContext) *cobra.Command {
	var (
		kf           keyFlags
		number       string
		chapterTitle string
	)

	cmd := &cobra.Command{
		Use:   "open <chapter-id>",
		Short: "Record that a chapter was opened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := kf.keys()
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				ch := provider.Chapter{ID: args[0], Number: number, Title: chapterTitle}
				item, err := s.ledger.RecordOpen(keys, ch, "cli")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Opened %s of %s (%d read)\n", ch.ID, item.Title, len(item.ReadChapters))
				return nil
			})
		},
	}
	kf.add(cmd)
	cmd.Flags().StringVar(&number, "number", "", "Chapter number")
	cmd.Flags().StringVar(&chapterTitle, "chapter-title", "", "Chapter title")
	return cmd
}

func newHistoryToggleCommand(ctx *commandContext) *cobra.Command {
	var (
		kf     keyFlags
		number string
	)

	cmd := &cobra.Command{
		Use:   "toggle <chapter-id>",
		Short: "Flip a chapter between read and unread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := kf.keys()
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				read, err := s.ledger.ToggleRead(keys, provider.Chapter{ID: args[0], Number: number})
				if err != nil {
					return err
				}
				state := "unread"
				for _, id := range read {
					if id == args[0] {
						state = "read"
						break
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s (%d read)\n", args[0], state, len(read))
				return nil
			})
		},
	}
	kf.add(cmd)
	cmd.Flags().StringVar(&number, "number", "", "Chapter number")
	return cmd
}

func newHistoryMarkUpToCommand(ctx *commandContext) *cobra.Command {
	var kf keyFlags

	cmd := &cobra.Command{
		Use:   "mark-up-to <chapter-id>",
		Short: "Mark every chapter up to and including one as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := kf.keys()
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				chapters, err := s.chapters(cmd.Context(), keys)
				if err != nil {
					return err
				}
				read, err := s.ledger.MarkUpTo(keys, chapters, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d chapters read\n", len(read))
				return nil
			})
		},
	}
	kf.add(cmd)
	return cmd
}

func newHistoryMarkRangeCommand(ctx *commandContext) *cobra.Command {
	var kf keyFlags

	cmd := &cobra.Command{
		Use:   "mark-range <from> <to>",
		Short: "Mark chapters numbered within a range as read",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := kf.keys()
			if err != nil {
				return err
			}
			from, err := parseChapterArg(args[0])
			if err != nil {
				return err
			}
			to, err := parseChapterArg(args[1])
			if err != nil {
				return err
			}
			if from > to {
				from, to = to, from
			}
			return ctx.withServices(func(s *services) error {
				chapters, err := s.chapters(cmd.Context(), keys)
				if err != nil {
					return err
				}
				read, err := s.ledger.MarkRange(keys, chapters, from, to)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d chapters read\n", len(read))
				return nil
			})
		},
	}
	kf.add(cmd)
	return cmd
}

func newHistoryReadThroughCommand(ctx *commandContext) *cobra.Command {
	var kf keyFlags

	cmd := &cobra.Command{
		Use:   "read-through <number>",
		Short: "Replace the read set with every chapter up to a number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := kf.keys()
			if err != nil {
				return err
			}
			n, err := parseChapterArg(args[0])
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				chapters, err := s.chapters(cmd.Context(), keys)
				if err != nil {
					return err
				}
				read, err := s.ledger.SetReadThrough(keys, chapters, n)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d chapters read\n", len(read))
				return nil
			})
		},
	}
	kf.add(cmd)
	return cmd
}

func parseChapterArg(s string) (float64, error) {
	n, ok := history.ParseChapterNumber(s)
	if !ok {
		return 0, fmt.Errorf("invalid chapter number %q", s)
	}
	return n, nil
}

func newHistoryClearCommand(ctx *commandContext) *cobra.Command {
	var kf keyFlags

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget what was read in one series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := kf.keys()
			if err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				if err := s.ledger.ClearSeries(keys); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Series history cleared")
				return nil
			})
		},
	}
	kf.add(cmd)
	return cmd
}

func newHistoryClearAllCommand(ctx *commandContext) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear-all",
		Short: "Drop the whole reading history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear all history without --yes")
			}
			return ctx.withServices(func(s *services) error {
				if err := s.ledger.ClearAll(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All history cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing everything")
	return cmd
}
