package tui

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

type KeyHandler struct {
	picker *Picker
}

func NewKeyHandler(p *Picker) *KeyHandler {
	return &KeyHandler{picker: p}
}

func (kh *KeyHandler) HandleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return kh.abort()
	}
	if kh.isFiltering() {
		return kh.delegateToCharm(msg)
	}
	if model, cmd, handled := kh.handleCustomKeys(key); handled {
		return model, cmd
	}
	return kh.delegateToCharm(msg)
}

func (kh *KeyHandler) isFiltering() bool {
	return kh.picker.view == ViewCandidates && kh.picker.candidates.FilterState() == list.Filtering
}

func (kh *KeyHandler) handleCustomKeys(key string) (tea.Model, tea.Cmd, bool) {
	switch kh.picker.view {
	case ViewCandidates:
		return kh.handleCandidateKeys(key)
	case ViewPolicy:
		return kh.handlePolicyKeys(key)
	case ViewOutcome:
		return kh.handleOutcomeKeys(key)
	default:
		return kh.picker, nil, false
	}
}

func (kh *KeyHandler) handleCandidateKeys(key string) (tea.Model, tea.Cmd, bool) {
	p := kh.picker
	switch key {
	case "enter":
		if p.res == nil || p.spinning {
			p.setStatus(MsgStillSearch, StatusWarn)
			return p, nil, true
		}
		i, ok := p.candidates.SelectedItem().(candidateItem)
		if !ok {
			return p, nil, true
		}
		p.spinning = true
		p.setStatus(MsgLinking, StatusInfo)
		return p, tea.Batch(p.spinner.Tick, p.choose(i.cand, i.index)), true
	case "esc", "q":
		if p.candidates.FilterState() == list.FilterApplied && key == "esc" {
			return p, nil, false
		}
		p.result.Cancelled = true
		p.setStatus(MsgCancelled, StatusInfo)
		return p, p.quit(), true
	}
	return p, nil, false
}

func (kh *KeyHandler) handlePolicyKeys(key string) (tea.Model, tea.Cmd, bool) {
	p := kh.picker
	switch key {
	case "enter":
		if p.spinning {
			return p, nil, true
		}
		i, ok := p.policies.SelectedItem().(policyItem)
		if !ok {
			return p, nil, true
		}
		p.spinning = true
		p.setStatus(MsgApplying, StatusInfo)
		return p, tea.Batch(p.spinner.Tick, p.apply(i.policy)), true
	case "esc", "q":
		if p.spinning {
			return p, nil, true
		}
		return kh.cancelRemap()
	}
	return p, nil, false
}

// cancelRemap abandons the pending remap. With other candidates on screen the
// user goes back to the list; otherwise the picker exits.
func (kh *KeyHandler) cancelRemap() (tea.Model, tea.Cmd, bool) {
	p := kh.picker
	p.result.Restored = p.resolver.CancelReconcile(p.rc)
	p.rc = nil
	p.result.Chosen = nil
	p.setStatus(MsgRestored(p.result.Restored), StatusInfo)

	if p.res != nil && len(p.res.Candidates) > 1 {
		p.view = ViewCandidates
		return p, nil, true
	}
	p.result.Cancelled = true
	return p, p.quit(), true
}

func (kh *KeyHandler) handleOutcomeKeys(key string) (tea.Model, tea.Cmd, bool) {
	p := kh.picker
	switch key {
	case "r":
		if p.spinning || p.result.Outcome == nil || !p.result.Outcome.Partial() {
			return p, nil, true
		}
		p.spinning = true
		p.setStatus(MsgRetrying, StatusInfo)
		return p, tea.Batch(p.spinner.Tick, p.retry()), true
	case "enter", "esc", "q":
		return p, p.quit(), true
	}
	return p, nil, false
}

// abort ends the program from anywhere. A remap still waiting for a policy
// is cancelled so nothing is written.
func (kh *KeyHandler) abort() (tea.Model, tea.Cmd) {
	p := kh.picker
	if p.rc != nil && p.result.Outcome == nil {
		p.result.Restored = p.resolver.CancelReconcile(p.rc)
		p.rc = nil
	}
	if p.result.Linked == nil {
		p.result.Cancelled = true
	}
	return p, p.quit()
}

// delegateToCharm lets the bubbles lists handle navigation and filtering.
func (kh *KeyHandler) delegateToCharm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := kh.picker
	var cmd tea.Cmd
	switch p.view {
	case ViewCandidates:
		p.candidates, cmd = p.candidates.Update(msg)
	case ViewPolicy:
		p.policies, cmd = p.policies.Update(msg)
	}
	return p, cmd
}

// GetHelpForCurrentView returns the picker's own key help; the lists show
// their navigation keys themselves.
func (kh *KeyHandler) GetHelpForCurrentView() []string {
	p := kh.picker
	switch p.view {
	case ViewCandidates:
		if len(p.candidates.Items()) == 0 {
			return []string{"esc: quit"}
		}
		return []string{"enter: link", "/: filter", "esc: quit"}
	case ViewPolicy:
		return []string{"enter: apply", "esc: keep previous"}
	case ViewOutcome:
		if p.result.Outcome != nil && p.result.Outcome.Partial() {
			return []string{"r: retry sync", "enter: done"}
		}
		return []string{"enter: done"}
	default:
		return []string{}
	}
}
