package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/crossread/internal/orchestrator"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/resolve"
	"github.com/pders01/crossread/internal/storage"
	"github.com/pders01/crossread/internal/title"
)

// Resolver is the part of resolve.Resolver the picker drives.
type Resolver interface {
	Choose(ctx context.Context, res *resolve.Resolution, i int) (*reconcile.Context, error)
	ApplyReconcile(ctx context.Context, c *reconcile.Context, policy reconcile.Policy) (*reconcile.Outcome, error)
	CancelReconcile(c *reconcile.Context) *storage.Mapping
	RetrySync(ctx context.Context, c *reconcile.Context) (*reconcile.Outcome, error)
}

// ResolveFunc starts one resolve call. The picker fills in the update
// callbacks of opts.
type ResolveFunc func(ctx context.Context, opts resolve.Options) (*resolve.Resolution, error)

// Result is what the picker settled on once the program exits.
type Result struct {
	Resolution *resolve.Resolution
	Chosen     *title.Candidate
	Outcome    *reconcile.Outcome
	Linked     *storage.Mapping
	Restored   *storage.Mapping
	Cancelled  bool
	Err        error
}

// Picker is the bubbletea model for choosing a candidate and, on a progress
// conflict, a reconcile policy.
type Picker struct {
	ctx        context.Context
	cancel     context.CancelFunc
	resolver   Resolver
	job        ResolveFunc
	subject    string
	events     chan tea.Msg
	keyHandler *KeyHandler

	spinner    spinner.Model
	spinning   bool
	candidates list.Model
	policies   list.Model
	view       View

	providers []orchestrator.ProviderState
	res       *resolve.Resolution
	rc        *reconcile.Context
	result    Result

	status     string
	statusKind StatusKind
	width      int
	height     int
	err        error
}

// NewPicker builds a picker that runs job and lets the user settle the
// outcome through r. subject is shown in the header.
func NewPicker(r Resolver, job ResolveFunc, subject string) *Picker {
	ctx, cancel := context.WithCancel(context.Background())

	candidates := list.New([]list.Item{}, list.NewDefaultDelegate(), 80, 20)
	candidates.Title = "› candidates"
	candidates.SetShowStatusBar(false)
	candidates.SetShowHelp(false)
	candidates.SetFilteringEnabled(true)

	policies := list.New(policyItems(), list.NewDefaultDelegate(), 80, 20)
	policies.Title = "› progress"
	policies.SetShowStatusBar(false)
	policies.SetShowHelp(false)
	policies.SetFilteringEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(PendingColor)

	p := &Picker{
		ctx:        ctx,
		cancel:     cancel,
		resolver:   r,
		job:        job,
		subject:    subject,
		events:     make(chan tea.Msg, 32),
		spinner:    sp,
		spinning:   true,
		candidates: candidates,
		policies:   policies,
		view:       ViewCandidates,
		status:     MsgSearching,
	}
	p.keyHandler = NewKeyHandler(p)
	return p
}

// Result reports how the session ended.
func (p *Picker) Result() Result {
	out := p.result
	out.Resolution = p.res
	if out.Err == nil {
		out.Err = p.err
	}
	return out
}

func (p *Picker) Init() tea.Cmd {
	return tea.Batch(p.spinner.Tick, p.resolve(), p.waitForEvent())
}

func (p *Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.height = msg.Height
		h := msg.Height - 6
		if h < 5 {
			h = 5
		}
		p.candidates.SetSize(msg.Width, h)
		p.policies.SetSize(msg.Width, h)
		return p, nil

	case tea.KeyMsg:
		return p.keyHandler.HandleKey(msg)

	case spinner.TickMsg:
		if !p.spinning {
			return p, nil
		}
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd

	case snapshotMsg:
		if p.res == nil {
			p.providers = msg.snap.Providers
			p.setCandidates(msg.snap.Candidates())
			p.setStatus(MsgProviders(msg.snap.Providers), StatusInfo)
		}
		return p, p.waitForEvent()

	case resolvedMsg:
		p.spinning = false
		if msg.err != nil {
			p.err = msg.err
			p.setStatus(msg.err.Error(), StatusError)
			return p, nil
		}
		p.applyResolution(msg.res)
		return p, nil

	case revalidatedMsg:
		if p.view == ViewCandidates && p.rc == nil && p.result.Chosen == nil && !p.spinning {
			p.applyResolution(msg.res)
			if p.view == ViewOutcome {
				p.setStatus(MsgRevalidated, StatusSuccess)
			}
		}
		return p, p.waitForEvent()

	case chosenMsg:
		p.spinning = false
		if msg.err != nil {
			p.err = msg.err
			p.setStatus(msg.err.Error(), StatusError)
			return p, nil
		}
		cand := msg.cand
		p.result.Chosen = &cand
		if msg.rc == nil {
			p.result.Linked = p.mappingFor(cand)
			p.view = ViewOutcome
			p.setStatus(MsgLinked(p.result.Linked), StatusSuccess)
			return p, nil
		}
		p.rc = msg.rc
		p.showPolicies()
		return p, nil

	case appliedMsg:
		p.spinning = false
		if msg.err != nil {
			p.err = msg.err
			p.setStatus(msg.err.Error(), StatusError)
			return p, nil
		}
		p.result.Outcome = msg.outcome
		m := msg.outcome.Mapping
		p.result.Linked = &m
		p.view = ViewOutcome
		if msg.outcome.Partial() {
			p.setStatus(MsgOutcome(msg.outcome), StatusWarn)
		} else {
			p.setStatus(MsgOutcome(msg.outcome), StatusSuccess)
		}
		return p, nil

	case errorMsg:
		p.err = msg.err
		p.setStatus(msg.err.Error(), StatusError)
		return p, nil
	}

	var cmd tea.Cmd
	switch p.view {
	case ViewCandidates:
		p.candidates, cmd = p.candidates.Update(msg)
	case ViewPolicy:
		p.policies, cmd = p.policies.Update(msg)
	}
	return p, cmd
}

func (p *Picker) applyResolution(res *resolve.Resolution) {
	p.res = res
	if len(res.Providers) > 0 {
		p.providers = res.Providers
	}
	p.setCandidates(res.Candidates)

	switch res.Status {
	case resolve.StatusMapped:
		if res.Pending() {
			p.rc = res.Reconcile
			if len(res.Candidates) > 0 {
				c := res.Candidates[0]
				p.result.Chosen = &c
			}
			p.showPolicies()
			return
		}
		p.result.Linked = res.Mapping
		p.view = ViewOutcome
		if len(res.Candidates) == 0 {
			p.setStatus(MsgAlreadyLinked, StatusSuccess)
		} else {
			p.setStatus(MsgLinked(res.Mapping), StatusSuccess)
		}
	case resolve.StatusAmbiguous:
		p.view = ViewCandidates
		p.setStatus(MsgResultsCount(len(res.Candidates)), StatusInfo)
	default:
		p.view = ViewCandidates
		p.setStatus(MsgNoCandidates, StatusWarn)
	}
}

func (p *Picker) setCandidates(cands []title.Candidate) {
	items := make([]list.Item, len(cands))
	for i, c := range cands {
		items[i] = candidateItem{cand: c, index: i}
	}
	p.candidates.SetItems(items)
}

func (p *Picker) showPolicies() {
	p.view = ViewPolicy
	p.policies.Select(0)
	p.setStatus(MsgConflict(p.rc.LocalProgress, p.rc.RemoteProgress), StatusWarn)
}

// mappingFor rebuilds the saved link from the resolution for display.
func (p *Picker) mappingFor(c title.Candidate) *storage.Mapping {
	m := &storage.Mapping{Provider: c.Provider, ProviderID: c.ID, Title: c.Title}
	if p.res == nil {
		return m
	}
	switch {
	case p.res.CatalogEntry != nil:
		m.CatalogID = p.res.CatalogEntry.ID
	case p.res.ProviderEntry != nil:
		m.Provider = p.res.ProviderName
		m.ProviderID = p.res.ProviderEntry.ID
		m.Title = p.res.ProviderEntry.Title
		m.CatalogID, _ = strconv.Atoi(c.ID)
	}
	return m
}

func (p *Picker) setStatus(text string, kind StatusKind) {
	p.status = text
	p.statusKind = kind
}

func (p *Picker) View() string {
	frame := ""
	if p.spinning {
		frame = p.spinner.View()
	}

	width := p.width
	if width <= 0 {
		width = 80
	}

	var body string
	switch p.view {
	case ViewCandidates:
		if len(p.candidates.Items()) == 0 && !p.spinning {
			body = lipgloss.NewStyle().
				Width(width).
				Align(lipgloss.Center).
				Render(GetCompactBanner(MsgNoCandidates))
		} else {
			body = p.candidates.View()
		}
	case ViewPolicy:
		sub := ""
		if p.rc != nil {
			sub = fmt.Sprintf("%s → %s/%s", p.rc.Catalog.DisplayTitle(), p.rc.Mapping.Provider, p.rc.Mapping.ProviderID)
		}
		body = lipgloss.JoinVertical(lipgloss.Top,
			renderHeader("Progress differs", sub, width),
			"",
			p.policies.View(),
		)
	case ViewOutcome:
		body = p.outcomeView(width)
	}

	header := renderHeader(CompactLogo+" "+p.subject, "", width)
	rows := []string{header}
	if chips := renderChips(p.providers, frame); chips != "" {
		rows = append(rows, chips)
	}
	rows = append(rows, "", body, p.statusBar(width, frame))
	return lipgloss.JoinVertical(lipgloss.Top, rows...)
}

func (p *Picker) outcomeView(width int) string {
	var lines []string
	if m := p.result.Linked; m != nil {
		lines = append(lines, HighlightStyle.Render(truncateEnd(m.Title, width-4)))
		lines = append(lines, renderMuted(fmt.Sprintf("catalog %d ⇄ %s/%s", m.CatalogID, m.Provider, truncateMiddle(m.ProviderID, 40))))
	}
	if o := p.result.Outcome; o != nil {
		lines = append(lines, "", fmt.Sprintf("policy %s • local %d • catalog %d • %d chapters read", o.Policy, o.Local, o.Remote, len(o.ReadChapters)))
		if o.Partial() {
			lines = append(lines, StatusErrorStyle.Render("✗ "+o.ProgressErr.Error()))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Top, lines...)
}

func (p *Picker) statusBar(width int, frame string) string {
	separator := renderMuted(strings.Repeat("─", max(width-1, 0)))

	status := p.status
	if p.spinning && frame != "" {
		status = frame + " " + status
	}
	text := p.statusKind.Style().Render(status)
	if help := p.keyHandler.GetHelpForCurrentView(); len(help) > 0 {
		text += "  " + renderHelp(strings.Join(help, " • "))
	}
	return lipgloss.JoinVertical(lipgloss.Top, separator, lipgloss.NewStyle().Width(width).Padding(0, 1).Render(text))
}

type candidateItem struct {
	cand  title.Candidate
	index int
}

func (i candidateItem) Title() string { return i.cand.Title }
func (i candidateItem) Description() string {
	return fmt.Sprintf("%s • %s • %.2f", i.cand.Provider, truncateMiddle(i.cand.ID, 36), i.cand.Score)
}
func (i candidateItem) FilterValue() string { return i.cand.Title }

type policyItem struct {
	policy reconcile.Policy
}

func (i policyItem) Title() string       { return string(i.policy) }
func (i policyItem) Description() string { return i.policy.Describe() }
func (i policyItem) FilterValue() string { return string(i.policy) }

func policyItems() []list.Item {
	ps := reconcile.Policies()
	items := make([]list.Item, len(ps))
	for i, pol := range ps {
		items[i] = policyItem{policy: pol}
	}
	return items
}
