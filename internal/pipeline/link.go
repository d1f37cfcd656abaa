package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/docket-scraper/internal/records"
)

// Link confidences for name matches.
const (
	ExactNameConfidence   = 1.0
	InitialNameConfidence = 0.6
)

type linkCandidate struct {
	caseNumber string
	name       string
}

// splitName breaks "LAST, FIRST MIDDLE" into upper-cased last and first names.
func splitName(name string) (last, first string) {
	last, rest, _ := strings.Cut(name, ",")
	last = strings.ToUpper(strings.Join(strings.Fields(last), " "))
	if f := strings.Fields(rest); len(f) > 0 {
		first = strings.ToUpper(f[0])
	}
	return last, first
}

// NameConfidence scores how likely two "LAST, FIRST" names denote the same
// person: identical names score ExactNameConfidence, the same last name with
// a matching first initial scores InitialNameConfidence, anything else 0.
func NameConfidence(a, b string) float64 {
	lastA, firstA := splitName(a)
	lastB, firstB := splitName(b)
	if lastA == "" || lastA != lastB {
		return 0
	}
	if strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " ")) {
		return ExactNameConfidence
	}
	if firstA != "" && firstB != "" && firstA[0] == firstB[0] {
		return InitialNameConfidence
	}
	return 0
}

// linkCandidates matches searched cases against inmates from this run and
// from the store, adding links to the merge set.
func (o *Orchestrator) linkCandidates(ctx context.Context, rc *records.RunContext, p *pass) {
	if len(p.candidates) == 0 {
		return
	}
	stored := make(map[string][]records.Inmate)
	for _, cand := range p.candidates {
		last, _ := splitName(cand.name)
		if last == "" {
			continue
		}
		people, ok := stored[last]
		if !ok {
			found, err := o.deps.Store.FindInmatesByLastName(ctx, last)
			if err != nil {
				rc.Log().Warn("inmate name lookup failed", zap.String("last_name", last), zap.Error(err))
			}
			people = found
			stored[last] = people
		}
		for _, in := range append(p.set.Inmates(), people...) {
			if conf := NameConfidence(cand.name, in.Name); conf > 0 {
				p.set.AddLink(records.CaseLink{CaseNumber: cand.caseNumber, InmateKey: in.Key, Confidence: conf})
			}
		}
	}
}
