// Package selection filters a group's members by targeting and orders the
// survivors according to the group's order method.
package selection

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/targeting"
	"ad-decision-engine/internal/visitor"
)

type Selector struct {
	eval *targeting.Evaluator

	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Selector. A nil src seeds from the wall clock.
func New(eval *targeting.Evaluator, src rand.Source) *Selector {
	if src == nil {
		src = rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)
	}
	return &Selector{eval: eval, rnd: rand.New(src)}
}

// Eligible returns active members whose rulesets all match, in stored order.
func (s *Selector) Eligible(g Group, c visitor.Context) []Candidate {
	out := make([]Candidate, 0, len(g.Members))
	for _, m := range g.Members {
		if !m.Active {
			continue
		}
		if s.eval.EvaluateAll(m.Targeting, c) {
			out = append(out, m)
		}
	}
	return out
}

// Select returns the display order for one view. An empty result means the
// placement must not be rendered.
func (s *Selector) Select(g Group, c visitor.Context) []Candidate {
	if !s.eval.EvaluateAll(g.Targeting, c) {
		return nil
	}
	el := s.Eligible(g, c)
	if len(el) == 0 {
		return nil
	}
	switch g.Method {
	case Random:
		s.shuffle(el)
	case Weighted:
		el = s.weightedOrder(g.ID, el)
	}
	return el
}

// Pick returns the single ad to show for a non-rotating placement.
func (s *Selector) Pick(g Group, c visitor.Context) (Candidate, bool) {
	order := s.Select(g, c)
	if len(order) == 0 {
		return Candidate{}, false
	}
	return order[0], true
}

func (s *Selector) shuffle(el []Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rnd.Shuffle(len(el), func(i, j int) { el[i], el[j] = el[j], el[i] })
}

// weightedOrder draws without replacement, each draw choosing candidate i
// with probability weight_i / sum of remaining weights. Zero-weight members
// follow in random order; an all-zero set degrades to a uniform shuffle.
func (s *Selector) weightedOrder(groupID string, el []Candidate) []Candidate {
	var pool, zero []Candidate
	for _, c := range el {
		if c.Weight > 0 {
			pool = append(pool, c)
		} else {
			zero = append(zero, c)
		}
	}
	if len(pool) == 0 {
		log.Warn().Str("group_id", groupID).Msg("weighted group has zero total weight; using uniform order")
		s.shuffle(zero)
		return zero
	}

	s.mu.Lock()
	out := make([]Candidate, 0, len(el))
	for len(pool) > 0 {
		total := 0
		for _, c := range pool {
			total += c.Weight
		}
		i := cumulativePick(pool, s.rnd.IntN(total))
		out = append(out, pool[i])
		pool = append(pool[:i], pool[i+1:]...)
	}
	s.mu.Unlock()

	s.shuffle(zero)
	return append(out, zero...)
}

// cumulativePick returns the index whose cumulative weight range contains r.
func cumulativePick(pool []Candidate, r int) int {
	for i, c := range pool {
		if r < c.Weight {
			return i
		}
		r -= c.Weight
	}
	return len(pool) - 1
}
