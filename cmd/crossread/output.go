package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/pders01/crossread/internal/orchestrator"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/resolve"
	"github.com/pders01/crossread/internal/storage"
	"github.com/pders01/crossread/internal/title"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(v any) bool {
	file, ok := v.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// interactive reports whether the picker can take over the terminal.
func interactive(cmd *cobra.Command) bool {
	return isTerminal(cmd.InOrStdin()) && isTerminal(cmd.OutOrStdout())
}

type candidateView struct {
	Provider string  `json:"provider"`
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Score    float64 `json:"score"`
}

type outcomeView struct {
	Policy       reconcile.Policy `json:"policy"`
	Local        int              `json:"local"`
	Remote       int              `json:"remote"`
	ReadChapters int              `json:"read_chapters"`
	SyncError    string           `json:"sync_error,omitempty"`
}

type resolutionView struct {
	Status     resolve.Status               `json:"status"`
	Query      string                       `json:"query,omitempty"`
	Mapping    *storage.Mapping             `json:"mapping,omitempty"`
	Providers  []orchestrator.ProviderState `json:"providers,omitempty"`
	Candidates []candidateView              `json:"candidates"`
	Outcome    *outcomeView                 `json:"outcome,omitempty"`
}

func newResolutionView(res *resolve.Resolution, out *reconcile.Outcome) resolutionView {
	v := resolutionView{
		Status:     res.Status,
		Query:      res.Query,
		Mapping:    res.Mapping,
		Providers:  res.Providers,
		Candidates: make([]candidateView, 0, len(res.Candidates)),
	}
	for _, c := range res.Candidates {
		v.Candidates = append(v.Candidates, candidateView(c))
	}
	if out != nil {
		m := out.Mapping
		v.Mapping = &m
		v.Outcome = &outcomeView{
			Policy:       out.Policy,
			Local:        out.Local,
			Remote:       out.Remote,
			ReadChapters: len(out.ReadChapters),
		}
		if out.ProgressErr != nil {
			v.Outcome.SyncError = out.ProgressErr.Error()
		}
	}
	return v
}

func printProviders(w io.Writer, states []orchestrator.ProviderState) {
	if len(states) == 0 {
		return
	}
	rows := make([][]string, 0, len(states))
	for _, s := range states {
		rows = append(rows, []string{s.Name, string(s.Status), strconv.Itoa(s.Results), s.Error})
	}
	fmt.Fprintln(w, renderTable([]string{"Provider", "Status", "Results", "Error"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
}

func printCandidates(w io.Writer, cands []title.Candidate) {
	rows := make([][]string, 0, len(cands))
	for i, c := range cands {
		rows = append(rows, []string{strconv.Itoa(i + 1), c.Provider, c.ID, c.Title, fmt.Sprintf("%.2f", c.Score)})
	}
	fmt.Fprintln(w, renderTable([]string{"#", "Provider", "ID", "Title", "Score"}, rows, []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight}))
}

func printMapping(w io.Writer, verb string, m *storage.Mapping) {
	if m == nil {
		return
	}
	fmt.Fprintf(w, "%s catalog %d to %s/%s (%s)\n", verb, m.CatalogID, m.Provider, m.ProviderID, m.Title)
}

func printOutcome(cmd *cobra.Command, out *reconcile.Outcome) {
	if out == nil {
		return
	}
	w := cmd.OutOrStdout()
	printMapping(w, "Linked", &out.Mapping)
	fmt.Fprintf(w, "Progress (%s): local %d, catalog %d, %d chapters read\n", out.Policy, out.Local, out.Remote, len(out.ReadChapters))
	if out.Partial() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: link saved but %v\n", out.ProgressErr)
	}
}
