package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/resolve"
	"github.com/pders01/crossread/internal/storage"
	"github.com/pders01/crossread/internal/tui"
)

type resolveOptions struct {
	providers []string
	policy    string
	pick      int
	jsonOut   bool
	noTUI     bool
}

func (o *resolveOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.policy, "policy", "", "Progress policy on conflict: "+policyList())
	cmd.Flags().IntVar(&o.pick, "pick", 0, "Link the Nth candidate of an ambiguous result")
	cmd.Flags().BoolVar(&o.jsonOut, "json", false, "Emit JSON")
	cmd.Flags().BoolVar(&o.noTUI, "no-tui", false, "Never open the interactive picker")
}

func (o *resolveOptions) validate() error {
	if o.policy != "" {
		if _, err := reconcile.ParsePolicy(o.policy); err != nil {
			return fmt.Errorf("%w (want one of %s)", err, policyList())
		}
	}
	if o.pick < 0 {
		return errors.New("--pick must be positive")
	}
	return nil
}

func (o *resolveOptions) useTUI(cmd *cobra.Command) bool {
	return !o.jsonOut && !o.noTUI && o.pick == 0 && o.policy == "" && interactive(cmd)
}

func policyList() string {
	names := make([]string, 0, len(reconcile.Policies()))
	for _, p := range reconcile.Policies() {
		names = append(names, string(p))
	}
	return strings.Join(names, "|")
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var opts resolveOptions

	cmd := &cobra.Command{
		Use:   "resolve <catalog-id>",
		Short: "Find and link the provider entry for a catalog entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			id, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid catalog id %q", args[0])
			}
			return ctx.withServices(func(s *services) error {
				entry, err := s.catalog.GetByID(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("fetch catalog entry %d: %w", id, err)
				}
				names := s.providerNames(opts.providers)
				if opts.useTUI(cmd) {
					job := tui.CatalogJob(s.resolver, *entry, names)
					return runPicker(cmd, s, job, entry.DisplayTitle())
				}
				res, err := s.resolver.ResolveForCatalogEntry(cmd.Context(), *entry, resolve.Options{Providers: names})
				if err != nil {
					return err
				}
				return finish(cmd, s, res, opts)
			})
		},
	}
	cmd.Flags().StringSliceVar(&opts.providers, "providers", nil, "Providers to search (default: providers.enabled)")
	opts.addFlags(cmd)
	return cmd
}

func newReverseCommand(ctx *commandContext) *cobra.Command {
	var (
		opts         resolveOptions
		providerName string
	)

	cmd := &cobra.Command{
		Use:   "reverse <provider-id-or-url>",
		Short: "Find the catalog entry for a provider series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			return ctx.withServices(func(s *services) error {
				p, err := pickProvider(s.registry, providerName, args[0])
				if err != nil {
					return err
				}
				entry, err := p.Details(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return fmt.Errorf("fetch %s entry: %w", p.Name(), err)
				}
				if opts.useTUI(cmd) {
					return runPicker(cmd, s, tui.ProviderJob(s.resolver, p.Name(), *entry), entry.Title)
				}
				res, err := s.resolver.ResolveForProviderEntry(cmd.Context(), p.Name(), *entry)
				if err != nil {
					return err
				}
				return finish(cmd, s, res, opts)
			})
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "Provider the id belongs to (default: detected from a URL)")
	opts.addFlags(cmd)
	return cmd
}

func newLinkCommand(ctx *commandContext) *cobra.Command {
	var policy string

	cmd := &cobra.Command{
		Use:   "link <catalog-id> <provider> <provider-id>",
		Short: "Link a catalog entry to a provider entry by hand",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := resolveOptions{policy: policy}
			if err := opts.validate(); err != nil {
				return err
			}
			id, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid catalog id %q", args[0])
			}
			return ctx.withServices(func(s *services) error {
				p, err := s.registry.Get(args[1])
				if err != nil {
					return err
				}
				entry, err := p.Details(cmd.Context(), strings.TrimSpace(args[2]))
				if err != nil {
					return fmt.Errorf("fetch %s entry: %w", p.Name(), err)
				}
				rc, err := s.resolver.BeginRemap(cmd.Context(), reconcile.Request{
					Kind:      reconcile.SwapProvider,
					CatalogID: id,
					Provider:  p.Name(),
					Entry:     *entry,
				})
				if err != nil {
					return err
				}
				if rc == nil {
					m, err := s.store.MappingByProvider(entry.ID, p.Name())
					if err != nil {
						return fmt.Errorf("reading saved mapping: %w", err)
					}
					printMapping(cmd.OutOrStdout(), "Linked", m)
					return nil
				}
				out, err := settle(cmd.Context(), s, rc, policy)
				if err != nil {
					return err
				}
				printOutcome(cmd, out)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "", "Progress policy on conflict: "+policyList())
	return cmd
}

// pickProvider returns the named provider, or the one claiming ref as a URL.
func pickProvider(reg *provider.Registry, name, ref string) (provider.Provider, error) {
	if name != "" {
		return reg.Get(name)
	}
	if p := reg.FindByURL(strings.TrimSpace(ref)); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("no provider recognises %q; pass --provider", ref)
}

// settle applies policy to a pending remap. Without a policy the remap is
// cancelled so nothing is written.
func settle(ctx context.Context, s *services, rc *reconcile.Context, policy string) (*reconcile.Outcome, error) {
	if policy == "" {
		s.resolver.CancelReconcile(rc)
		return nil, fmt.Errorf("progress differs (local %d, catalog %d): rerun with --policy %s",
			rc.LocalProgress, rc.RemoteProgress, policyList())
	}
	p, err := reconcile.ParsePolicy(policy)
	if err != nil {
		return nil, err
	}
	return s.resolver.ApplyReconcile(ctx, rc, p)
}

// finish settles a non-interactive resolution and prints it.
func finish(cmd *cobra.Command, s *services, res *resolve.Resolution, opts resolveOptions) error {
	var (
		out *reconcile.Outcome
		err error
	)
	switch {
	case res.Pending():
		out, err = settle(cmd.Context(), s, res.Reconcile, opts.policy)
	case res.Status == resolve.StatusAmbiguous && opts.pick > 0:
		out, err = pick(cmd.Context(), s, res, opts)
	case opts.pick > 0 && res.Status != resolve.StatusAmbiguous:
		err = fmt.Errorf("--pick needs an ambiguous result, got %s", res.Status)
	}
	if err != nil {
		return err
	}
	if out != nil {
		res.Status = resolve.StatusMapped
	}

	if opts.jsonOut {
		return writeJSON(cmd, newResolutionView(res, out))
	}

	w := cmd.OutOrStdout()
	if out != nil {
		printOutcome(cmd, out)
		return nil
	}
	switch res.Status {
	case resolve.StatusMapped:
		printMapping(w, "Linked", res.Mapping)
	case resolve.StatusAmbiguous:
		printProviders(w, res.Providers)
		printCandidates(w, res.Candidates)
		fmt.Fprintln(w, "Several candidates match; rerun with --pick N to link one")
	default:
		printProviders(w, res.Providers)
		fmt.Fprintln(w, tui.MsgNoCandidates)
	}
	return nil
}

// pick links the --pick candidate and folds the saved mapping into res.
func pick(ctx context.Context, s *services, res *resolve.Resolution, opts resolveOptions) (*reconcile.Outcome, error) {
	i := opts.pick - 1
	if i >= len(res.Candidates) {
		return nil, fmt.Errorf("--pick %d out of range (%d candidates)", opts.pick, len(res.Candidates))
	}
	rc, err := s.resolver.Choose(ctx, res, i)
	if err != nil {
		return nil, err
	}
	if rc != nil {
		return settle(ctx, s, rc, opts.policy)
	}
	m, err := savedMapping(s.store, res, i)
	if err != nil {
		return nil, err
	}
	res.Status = resolve.StatusMapped
	res.Mapping = m
	return nil, nil
}

func savedMapping(store *storage.Store, res *resolve.Resolution, i int) (*storage.Mapping, error) {
	cand := res.Candidates[i]
	providerName, providerID := cand.Provider, cand.ID
	if res.CatalogEntry == nil && res.ProviderEntry != nil {
		providerName, providerID = res.ProviderName, res.ProviderEntry.ID
	}
	m, err := store.MappingByProvider(providerID, providerName)
	if err != nil {
		return nil, fmt.Errorf("reading saved mapping: %w", err)
	}
	return m, nil
}

func runPicker(cmd *cobra.Command, s *services, job tui.ResolveFunc, subject string) error {
	picker := tui.NewPicker(s.resolver, job, subject)
	prog := tea.NewProgram(picker, tea.WithAltScreen(), tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("picker: %w", err)
	}

	result := picker.Result()
	if result.Err != nil {
		return result.Err
	}
	w := cmd.OutOrStdout()
	switch {
	case result.Outcome != nil:
		printOutcome(cmd, result.Outcome)
	case result.Linked != nil:
		printMapping(w, "Linked", result.Linked)
	case result.Cancelled:
		fmt.Fprintln(w, tui.MsgRestored(result.Restored))
	case result.Resolution != nil && result.Resolution.Status == resolve.StatusMapped:
		printMapping(w, "Linked", result.Resolution.Mapping)
	default:
		fmt.Fprintln(w, tui.MsgCancelled)
	}
	return nil
}
