package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pders01/crossread/internal/catalog"
	"github.com/pders01/crossread/internal/orchestrator"
	"github.com/pders01/crossread/internal/provider"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/resolve"
	"github.com/pders01/crossread/internal/title"
)

// wrapErr formats an error with a contextual prefix.
func wrapErr(context string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// send hands msg to the program without blocking the resolver. A dropped
// snapshot is harmless since every later one supersedes it.
func (p *Picker) send(msg tea.Msg) {
	select {
	case p.events <- msg:
	default:
	}
}

func (p *Picker) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-p.events:
			return msg
		case <-p.ctx.Done():
			return nil
		}
	}
}

func (p *Picker) resolve() tea.Cmd {
	return func() tea.Msg {
		res, err := p.job(p.ctx, resolve.Options{
			OnUpdate:      func(s orchestrator.Snapshot) { p.send(snapshotMsg{snap: s}) },
			OnRevalidated: func(r *resolve.Resolution) { p.send(revalidatedMsg{res: r}) },
		})
		return resolvedMsg{res: res, err: wrapErr("resolving", err)}
	}
}

func (p *Picker) choose(c title.Candidate, index int) tea.Cmd {
	res := p.res
	return func() tea.Msg {
		rc, err := p.resolver.Choose(p.ctx, res, index)
		return chosenMsg{cand: c, rc: rc, err: wrapErr("linking "+c.ID, err)}
	}
}

func (p *Picker) apply(policy reconcile.Policy) tea.Cmd {
	rc := p.rc
	return func() tea.Msg {
		out, err := p.resolver.ApplyReconcile(p.ctx, rc, policy)
		return appliedMsg{outcome: out, err: wrapErr("applying "+string(policy), err)}
	}
}

func (p *Picker) retry() tea.Cmd {
	rc := p.rc
	return func() tea.Msg {
		out, err := p.resolver.RetrySync(p.ctx, rc)
		return appliedMsg{outcome: out, err: wrapErr("retrying sync", err)}
	}
}

// quit stops background work and ends the program.
func (p *Picker) quit() tea.Cmd {
	p.cancel()
	return tea.Quit
}

// CatalogJob resolves a catalog entry against the named providers.
func CatalogJob(r *resolve.Resolver, entry catalog.Entry, providers []string) ResolveFunc {
	return func(ctx context.Context, opts resolve.Options) (*resolve.Resolution, error) {
		opts.Providers = providers
		return r.ResolveForCatalogEntry(ctx, entry, opts)
	}
}

// ProviderJob resolves a provider entry against the catalog.
func ProviderJob(r *resolve.Resolver, providerName string, entry provider.Entry) ResolveFunc {
	return func(ctx context.Context, _ resolve.Options) (*resolve.Resolution, error) {
		return r.ResolveForProviderEntry(ctx, providerName, entry)
	}
}
