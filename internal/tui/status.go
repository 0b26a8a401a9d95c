package tui

import (
	"fmt"
	"strings"

	"github.com/pders01/crossread/internal/orchestrator"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/storage"
)

// Canonical short status messages used across the picker.
const (
	MsgSearching     = "Searching providers…"
	MsgLinking       = "Linking…"
	MsgApplying      = "Applying…"
	MsgRetrying      = "Retrying progress sync…"
	MsgNoCandidates  = "No candidates found"
	MsgStillSearch   = "Still searching"
	MsgCancelled     = "Cancelled, nothing changed"
	MsgRevalidated   = "Fresh results made the match confident"
	MsgAlreadyLinked = "Already linked"
)

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 candidate"
	}
	return fmt.Sprintf("%d candidates", n)
}

func MsgConflict(local, remote int) string {
	return fmt.Sprintf("Progress differs: local %d • catalog %d", local, remote)
}

func MsgLinked(m *storage.Mapping) string {
	if m == nil {
		return "Linked"
	}
	return fmt.Sprintf("Linked %s to %s/%s", strings.TrimSpace(m.Title), m.Provider, m.ProviderID)
}

func MsgRestored(m *storage.Mapping) string {
	if m == nil {
		return "Cancelled, no previous link"
	}
	return fmt.Sprintf("Cancelled, kept %s/%s", m.Provider, m.ProviderID)
}

func MsgOutcome(o *reconcile.Outcome) string {
	if o == nil {
		return ""
	}
	base := fmt.Sprintf("Linked • %s • local %d • catalog %d", o.Policy, o.Local, o.Remote)
	if o.Partial() {
		base += " • sync failed"
	}
	return base
}

// MsgProviders summarizes provider progress, e.g. "2/3 providers done".
func MsgProviders(states []orchestrator.ProviderState) string {
	done := 0
	for _, s := range states {
		if s.Status != orchestrator.StatusPending {
			done++
		}
	}
	return fmt.Sprintf("%d/%d providers done", done, len(states))
}
