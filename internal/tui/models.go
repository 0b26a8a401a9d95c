package tui

import (
	"github.com/pders01/crossread/internal/orchestrator"
	"github.com/pders01/crossread/internal/reconcile"
	"github.com/pders01/crossread/internal/resolve"
	"github.com/pders01/crossread/internal/title"
)

type View int

const (
	ViewCandidates View = iota
	ViewPolicy
	ViewOutcome
)

type snapshotMsg struct {
	snap orchestrator.Snapshot
}

type resolvedMsg struct {
	res *resolve.Resolution
	err error
}

type revalidatedMsg struct {
	res *resolve.Resolution
}

type chosenMsg struct {
	cand title.Candidate
	rc   *reconcile.Context
	err  error
}

type appliedMsg struct {
	outcome *reconcile.Outcome
	err     error
}

type errorMsg struct {
	err error
}
