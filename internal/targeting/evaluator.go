// Package targeting evaluates boolean rule chains against a visitor context.
//
// Rules inside a ruleset are folded strictly left to right: every rule after
// the first is combined with the accumulated result by its own LogicOp. AND
// does not bind tighter than OR.
package targeting

import (
	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/visitor"
)

// Evaluator is safe for concurrent use.
type Evaluator struct{ reg *Registry }

func NewEvaluator(reg *Registry) *Evaluator {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &Evaluator{reg: reg}
}

// Evaluate reports whether a single rule matches. Unknown keys and handlers
// that panic are a non-match.
func (e *Evaluator) Evaluate(r Rule, c visitor.Context) (ok bool) {
	h, found := e.reg.Lookup(r.TargetKey)
	if !found {
		log.Debug().Str("target", r.TargetKey).Msg("unknown targeting key; treating as no match")
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			log.Warn().Str("target", r.TargetKey).Interface("panic", p).Msg("targeting handler failed")
			ok = false
		}
	}()
	return h.Matches(c, r.Condition, r.Values)
}

// EvaluateRuleset folds the rules left to right. An empty ruleset matches.
func (e *Evaluator) EvaluateRuleset(rs Ruleset, c visitor.Context) bool {
	if len(rs.Rules) == 0 {
		return true
	}
	acc := e.Evaluate(rs.Rules[0], c)
	for _, r := range rs.Rules[1:] {
		switch r.LogicOp {
		case Or:
			if !acc {
				acc = e.Evaluate(r, c)
			}
		default:
			if acc {
				acc = e.Evaluate(r, c)
			}
		}
	}
	return acc
}

// EvaluateAll reports whether every ruleset matches.
func (e *Evaluator) EvaluateAll(rss []Ruleset, c visitor.Context) bool {
	for _, rs := range rss {
		if !e.EvaluateRuleset(rs, c) {
			return false
		}
	}
	return true
}
