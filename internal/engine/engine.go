package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"ad-decision-engine/internal/cache"
	"ad-decision-engine/internal/observability"
	"ad-decision-engine/internal/selection"
	"ad-decision-engine/internal/storage"
	"ad-decision-engine/internal/targeting"
	"ad-decision-engine/internal/visitor"
)

var ErrUnknownGroup = errors.New("unknown group")

// Loader supplies persisted group definitions.
type Loader interface {
	LoadGroups(ctx context.Context) ([]storage.GroupRow, error)
}

type snapshot struct {
	groups  map[string]selection.Group
	builtAt time.Time
}

// DeliveryEngine exposes read-only, lock-free selection over the current
// group snapshot.
type DeliveryEngine struct {
	snap cache.Snapshot[snapshot]
	sel  *selection.Selector
}

func NewEngine(sel *selection.Selector) *DeliveryEngine {
	if sel == nil {
		sel = selection.New(targeting.NewEvaluator(nil), nil)
	}
	return &DeliveryEngine{sel: sel}
}

// BuildSnapshot loads groups, normalizes rules and swaps in a new snapshot.
// Invalid groups are skipped with a warning.
func (e *DeliveryEngine) BuildSnapshot(ctx context.Context, l Loader) error {
	rows, err := l.LoadGroups(ctx)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}
	groups := make([]selection.Group, 0, len(rows))
	for _, r := range rows {
		g, err := toGroup(r)
		if err != nil {
			log.Warn().Err(err).Str("group_id", r.ID).Msg("skipping invalid group")
			continue
		}
		groups = append(groups, g)
	}
	e.Replace(groups)
	log.Info().Int("groups", len(groups)).Msg("engine snapshot built")
	return nil
}

// Replace swaps in the given groups as the current snapshot.
func (e *DeliveryEngine) Replace(groups []selection.Group) {
	m := make(map[string]selection.Group, len(groups))
	for _, g := range groups {
		m[g.ID] = g
	}
	e.snap.Store(snapshot{groups: m, builtAt: time.Now()})
	observability.SnapshotGroups.Set(float64(len(m)))
}

// Select returns the ordered candidates for groupID. An empty slice means the
// placement must be suppressed.
func (e *DeliveryEngine) Select(_ context.Context, groupID string, c visitor.Context) ([]selection.Candidate, error) {
	s, _ := e.snap.Load()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
	}
	out := e.sel.Select(g, c)
	outcome := "filled"
	if len(out) == 0 {
		outcome = "empty"
	}
	observability.Decisions.WithLabelValues(string(g.Method), outcome).Inc()
	return out, nil
}

// Group returns the stored definition of groupID.
func (e *DeliveryEngine) Group(groupID string) (selection.Group, bool) {
	s, _ := e.snap.Load()
	g, ok := s.groups[groupID]
	return g, ok
}

// BuiltAt reports when the current snapshot was built; zero before the first build.
func (e *DeliveryEngine) BuiltAt() time.Time {
	s, _ := e.snap.Load()
	return s.builtAt
}

func toGroup(r storage.GroupRow) (selection.Group, error) {
	m, err := selection.ParseMethod(r.OrderMethod)
	if err != nil {
		return selection.Group{}, err
	}
	g := selection.Group{ID: r.ID, Method: m, Targeting: toRulesets(r.Targeting)}
	for _, a := range r.Ads {
		weight := 1
		if a.Weight != nil {
			weight = *a.Weight
		}
		g.Members = append(g.Members, selection.Candidate{
			ID:         a.ID,
			Title:      a.Title,
			Weight:     weight,
			Active:     a.Active,
			Markup:     a.Markup,
			TrackingID: a.TrackingID,
			Targeting:  toRulesets(a.Targeting),
		})
	}
	return g, g.Validate()
}

func toRulesets(rows []storage.RulesetRow) []targeting.Ruleset {
	if len(rows) == 0 {
		return nil
	}
	out := make([]targeting.Ruleset, 0, len(rows))
	for _, rs := range rows {
		set := targeting.Ruleset{Type: rs.Type}
		for _, r := range rs.Rules {
			set.Rules = append(set.Rules, targeting.Rule{
				TargetKey: r.TargetKey,
				Condition: targeting.Condition(r.Condition),
				Values:    append([]string(nil), r.Values...),
				LogicOp:   targeting.LogicOp(r.LogicOp),
			})
		}
		set.Normalize()
		out = append(out, set)
	}
	return out
}
