// Package router selects an initial workflow from free-text input when a
// session's call stack is empty. It is an injected collaborator: the
// contract permits a deterministic stub, keyword scoring, or an
// LLM/retrieval-backed implementation behind the same interface.
package router

import (
	"context"
	"sort"
	"strings"

	"github.com/stepflowhq/stepflow/pkg/workflow"
)

// Match is the router's answer for a cold-start query: the chosen
// workflow id and a confidence in [0, 1].
type Match struct {
	WorkflowID string
	Confidence float64
}

// WorkflowRouter analyzes a user's free-text query and picks the best
// matching workflow, or reports no match. Implementations must be safe
// for concurrent use.
type WorkflowRouter interface {
	FindBest(ctx context.Context, query string) (Match, bool)
}

// Static always returns the same workflow regardless of query, mirroring
// the original reference implementation's temporary routing stub. Useful
// as a default before a keyword or retrieval-backed router is wired in.
type Static struct {
	WorkflowID string
}

// NewStatic returns a WorkflowRouter that always resolves to workflowID
// with confidence 1.0.
func NewStatic(workflowID string) *Static {
	return &Static{WorkflowID: workflowID}
}

func (s *Static) FindBest(_ context.Context, _ string) (Match, bool) {
	return Match{WorkflowID: s.WorkflowID, Confidence: 1.0}, true
}

// Keyword scores each workflow in a Store by the fraction of its declared
// trigger keywords (gathered from every step's suggested links, plus the
// workflow's own title words) that appear in the query, case-insensitive.
// It is the "more advanced implementation" the contract explicitly allows
// beyond a single-workflow stub, without requiring network access.
type Keyword struct {
	store     workflow.Store
	workflows []*workflow.Workflow
	threshold float64
}

// NewKeyword builds a Keyword router over the given workflows. threshold
// is the minimum confidence required to report a match; queries scoring
// below it are treated as a router miss.
func NewKeyword(store workflow.Store, workflows []*workflow.Workflow, threshold float64) *Keyword {
	return &Keyword{store: store, workflows: workflows, threshold: threshold}
}

func (k *Keyword) FindBest(_ context.Context, query string) (Match, bool) {
	q := strings.ToLower(query)
	qWords := wordSet(q)

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored

	for _, w := range k.workflows {
		terms := keywordsFor(w)
		if len(terms) == 0 {
			continue
		}
		hits := 0
		for _, term := range terms {
			if strings.Contains(q, term) {
				hits++
				continue
			}
			if _, ok := qWords[term]; ok {
				hits++
			}
		}
		score := float64(hits) / float64(len(terms))
		if score > 0 {
			candidates = append(candidates, scored{id: w.Name, score: score})
		}
	}

	if len(candidates) == 0 {
		return Match{}, false
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	best := candidates[0]
	if best.score < k.threshold {
		return Match{}, false
	}
	return Match{WorkflowID: best.id, Confidence: best.score}, true
}

// keywordsFor gathers the lower-cased title words of w plus every trigger
// keyword declared on its steps' suggested links, deduplicated.
func keywordsFor(w *workflow.Workflow) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		terms = append(terms, s)
	}

	for _, word := range strings.Fields(w.Title) {
		add(word)
	}
	for _, step := range w.Steps {
		for _, link := range step.SuggestedLinks {
			for _, kw := range link.TriggerKeywords {
				add(kw)
			}
		}
	}
	return terms
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[strings.Trim(f, ".,!?;:")] = struct{}{}
	}
	return set
}
