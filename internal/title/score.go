package title

import (
	"sort"
	"strings"
)

const (
	exactScore    = 1.0
	containsScore = 0.9
	overlapBase   = 0.5
	overlapWeight = 0.35
	prefixBonus   = 0.08
	overlapCap    = 0.88
)

// Candidate is one search hit being ranked against reference titles.
type Candidate struct {
	Provider string
	ID       string
	Title    string
	Score    float64
}

// MatchParams configures the auto-select rule.
type MatchParams struct {
	AutoSelectScore float64
	AutoSelectGap   float64
}

// DefaultMatchParams returns the confident-match thresholds.
func DefaultMatchParams() MatchParams {
	return MatchParams{AutoSelectScore: 0.92, AutoSelectGap: 0.12}
}

// Score rates how well candidate matches the best of refs, in [0,1].
func Score(candidate string, refs []string) float64 {
	if strings.TrimSpace(candidate) == "" {
		return 0
	}
	cand := Normalize(candidate)
	candTokens := tokens(cand)

	best := 0.0
	for _, ref := range refs {
		if strings.TrimSpace(ref) == "" {
			continue
		}
		if s := scorePair(cand, candTokens, Normalize(ref)); s > best {
			best = s
		}
		if best == exactScore {
			break
		}
	}
	return best
}

func scorePair(cand string, candTokens []string, ref string) float64 {
	if cand == ref {
		return exactScore
	}
	if strings.Contains(cand, ref) || strings.Contains(ref, cand) {
		return containsScore
	}

	refTokens := tokens(ref)
	refSet := make(map[string]struct{}, len(refTokens))
	for _, t := range refTokens {
		refSet[t] = struct{}{}
	}
	shared := 0
	for _, t := range candTokens {
		if _, ok := refSet[t]; ok {
			shared++
		}
	}
	denom := len(candTokens)
	if len(refTokens) > denom {
		denom = len(refTokens)
	}
	overlap := 0.0
	if denom > 0 {
		overlap = float64(shared) / float64(denom)
	}

	bonus := 0.0
	cc, rc := compact(cand), compact(ref)
	if cc != "" && rc != "" && (strings.HasPrefix(cc, rc) || strings.HasPrefix(rc, cc)) {
		bonus = prefixBonus
	}

	if overlap == 0 && bonus == 0 {
		return 0
	}
	s := overlapBase + overlapWeight*overlap + bonus
	if s > overlapCap {
		s = overlapCap
	}
	return s
}

// Rank scores every candidate against refs and sorts best first. Ties keep
// a stable provider/id order so the result does not depend on arrival order.
func Rank(cands []Candidate, refs []string) []Candidate {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		c.Score = Score(c.Title, refs)
		out[i] = c
	}
	SortCandidates(out)
	return out
}

// SortCandidates orders by score desc, then provider, then id.
func SortCandidates(cands []Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		if cands[i].Provider != cands[j].Provider {
			return cands[i].Provider < cands[j].Provider
		}
		return cands[i].ID < cands[j].ID
	})
}

// AutoSelect reports whether a ranked list resolves confidently: a single
// candidate always does, otherwise the top score must clear the threshold
// and lead the runner-up by at least the gap.
func AutoSelect(ranked []Candidate, params MatchParams) (Candidate, bool) {
	switch len(ranked) {
	case 0:
		return Candidate{}, false
	case 1:
		return ranked[0], true
	}
	top, next := ranked[0], ranked[1]
	if top.Score >= params.AutoSelectScore && top.Score-next.Score >= params.AutoSelectGap-1e-9 {
		return top, true
	}
	return Candidate{}, false
}
