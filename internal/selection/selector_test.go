package selection

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ad-decision-engine/internal/targeting"
	"ad-decision-engine/internal/visitor"
)

func newSelector(seed uint64) *Selector {
	return New(targeting.NewEvaluator(nil), rand.NewPCG(seed, seed+1))
}

func ids(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

var mobileOnly = []targeting.Ruleset{{Type: "visitor", Rules: []targeting.Rule{
	{TargetKey: "device", Condition: targeting.Is, Values: []string{"mobile"}},
}}}

func TestSelect_FiltersInactiveAndTargeting(t *testing.T) {
	g := Group{ID: "g", Method: Sequential, Members: []Candidate{
		{ID: "1", Active: true, Weight: 1},
		{ID: "2", Active: false, Weight: 1},
		{ID: "3", Active: true, Weight: 1, Targeting: mobileOnly},
		{ID: "4", Active: true, Weight: 1},
	}}
	s := newSelector(1)

	desktop := visitor.NewContext(visitor.Snapshot{Device: visitor.Device{Class: "desktop"}})
	assert.Equal(t, []string{"1", "4"}, ids(s.Select(g, desktop)))

	mobile := visitor.NewContext(visitor.Snapshot{Device: visitor.Device{Class: "mobile"}})
	assert.Equal(t, []string{"1", "3", "4"}, ids(s.Select(g, mobile)))
}

func TestSelect_EmptyWhenNothingEligible(t *testing.T) {
	g := Group{ID: "g", Method: Random, Members: []Candidate{
		{ID: "1", Active: true, Targeting: mobileOnly},
	}}
	s := newSelector(1)
	c := visitor.NewContext(visitor.Snapshot{})
	assert.Empty(t, s.Select(g, c))
	_, ok := s.Pick(g, c)
	assert.False(t, ok)
}

func TestSelect_GroupTargeting(t *testing.T) {
	g := Group{ID: "g", Method: Sequential, Targeting: mobileOnly, Members: []Candidate{{ID: "1", Active: true}}}
	s := newSelector(1)
	assert.Empty(t, s.Select(g, visitor.NewContext(visitor.Snapshot{Device: visitor.Device{Class: "desktop"}})))
	assert.Len(t, s.Select(g, visitor.NewContext(visitor.Snapshot{Device: visitor.Device{Class: "mobile"}})), 1)
}

func TestSelect_SequentialIsStable(t *testing.T) {
	g := Group{ID: "g", Method: Sequential}
	for _, id := range []string{"c", "a", "d", "b"} {
		g.Members = append(g.Members, Candidate{ID: id, Active: true, Weight: 1})
	}
	s := newSelector(7)
	c := visitor.NewContext(visitor.Snapshot{})
	for i := 0; i < 100; i++ {
		assert.Equal(t, []string{"c", "a", "d", "b"}, ids(s.Select(g, c)))
	}
}

func TestSelect_RandomIsPermutation(t *testing.T) {
	g := Group{ID: "g", Method: Random, Members: []Candidate{
		{ID: "a", Active: true}, {ID: "b", Active: true}, {ID: "c", Active: true},
	}}
	s := newSelector(3)
	c := visitor.NewContext(visitor.Snapshot{})

	seen := map[string]int{}
	for i := 0; i < 6000; i++ {
		order := ids(s.Select(g, c))
		require.ElementsMatch(t, []string{"a", "b", "c"}, order)
		seen[order[0]+order[1]+order[2]]++
	}
	// 6 permutations, each expected ~1000 times
	assert.Len(t, seen, 6)
	for p, n := range seen {
		assert.InDelta(t, 1000, n, 150, "permutation %s", p)
	}
}

func TestSelect_WeightedFrequency(t *testing.T) {
	g := Group{ID: "g", Method: Weighted, Members: []Candidate{
		{ID: "light1", Active: true, Weight: 1},
		{ID: "light2", Active: true, Weight: 1},
		{ID: "heavy", Active: true, Weight: 8},
	}}
	s := newSelector(42)
	c := visitor.NewContext(visitor.Snapshot{})

	const draws = 10000
	heavy := 0
	for i := 0; i < draws; i++ {
		got, ok := s.Pick(g, c)
		require.True(t, ok)
		if got.ID == "heavy" {
			heavy++
		}
	}
	freq := float64(heavy) / draws
	assert.GreaterOrEqual(t, freq, 0.75)
	assert.LessOrEqual(t, freq, 0.85)
}

func TestSelect_WeightedWithoutReplacement(t *testing.T) {
	g := Group{ID: "g", Method: Weighted, Members: []Candidate{
		{ID: "a", Active: true, Weight: 3},
		{ID: "z", Active: true, Weight: 0},
		{ID: "b", Active: true, Weight: 5},
	}}
	s := newSelector(9)
	c := visitor.NewContext(visitor.Snapshot{})
	for i := 0; i < 200; i++ {
		order := ids(s.Select(g, c))
		require.Len(t, order, 3)
		assert.ElementsMatch(t, []string{"a", "b", "z"}, order)
		assert.Equal(t, "z", order[2], "zero weight drawn last")
	}
}

func TestSelect_WeightedAllZeroFallsBackToUniform(t *testing.T) {
	g := Group{ID: "g", Method: Weighted, Members: []Candidate{
		{ID: "a", Active: true}, {ID: "b", Active: true},
	}}
	s := newSelector(11)
	c := visitor.NewContext(visitor.Snapshot{})
	first := map[string]int{}
	for i := 0; i < 2000; i++ {
		order := ids(s.Select(g, c))
		require.Len(t, order, 2)
		first[order[0]]++
	}
	assert.InDelta(t, 1000, first["a"], 150)
}

func TestCumulativePick(t *testing.T) {
	pool := []Candidate{{Weight: 1}, {Weight: 1}, {Weight: 8}}
	assert.Equal(t, 0, cumulativePick(pool, 0))
	assert.Equal(t, 1, cumulativePick(pool, 1))
	for r := 2; r < 10; r++ {
		assert.Equal(t, 2, cumulativePick(pool, r))
	}
}

func TestGroup_Validate(t *testing.T) {
	assert.NoError(t, Group{ID: "g", Method: Weighted, Members: []Candidate{{ID: "a", Active: true, Weight: 2}}}.Validate())
	assert.ErrorIs(t, Group{ID: "g", Method: Weighted, Members: []Candidate{{ID: "a", Active: true, Weight: -1}}}.Validate(), ErrNegativeWeight)
	assert.Error(t, Group{ID: "g", Method: "lottery"}.Validate())

	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, Sequential, m)
}
