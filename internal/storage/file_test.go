package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defs = `
groups:
  - id: sidebar
    order: weighted
    targeting:
      - type: content
        rules:
          - target: post_type
            condition: is
            values: [post]
    ads:
      - id: "1"
        title: Spring sale
        weight: 8
        active: true
        tracking_id: t1
      - id: "2"
        active: false
        targeting:
          - type: visitor
            rules:
              - {target: device, condition: is, values: [mobile]}
              - {target: country, condition: in_list, values: [DE, AT], logic: or}
`

func TestFileLoader_LoadGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ads.yaml")
	require.NoError(t, os.WriteFile(path, []byte(defs), 0o600))

	groups, err := FileLoader{Path: path}.LoadGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, "sidebar", g.ID)
	assert.Equal(t, "weighted", g.OrderMethod)
	require.Len(t, g.Targeting, 1)
	assert.Equal(t, "post_type", g.Targeting[0].Rules[0].TargetKey)

	require.Len(t, g.Ads, 2)
	require.NotNil(t, g.Ads[0].Weight)
	assert.Equal(t, 8, *g.Ads[0].Weight)
	assert.True(t, g.Ads[0].Active)
	assert.Nil(t, g.Ads[1].Weight)
	assert.Equal(t, "or", g.Ads[1].Targeting[0].Rules[1].LogicOp)
	assert.Equal(t, []string{"DE", "AT"}, g.Ads[1].Targeting[0].Rules[1].Values)
}

func TestFileLoader_Errors(t *testing.T) {
	_, err := FileLoader{Path: filepath.Join(t.TempDir(), "missing.yaml")}.LoadGroups(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("groups: [: nope"), 0o600))
	_, err = FileLoader{Path: bad}.LoadGroups(context.Background())
	assert.Error(t, err)
}

func TestAppendRule_GroupsByType(t *testing.T) {
	var sets []RulesetRow
	sets = appendRule(sets, "content", RuleRow{TargetKey: "a"})
	sets = appendRule(sets, "visitor", RuleRow{TargetKey: "b"})
	sets = appendRule(sets, "content", RuleRow{TargetKey: "c"})

	require.Len(t, sets, 2)
	assert.Equal(t, []RuleRow{{TargetKey: "a"}, {TargetKey: "c"}}, sets[0].Rules)
}

func TestStore_NoPool(t *testing.T) {
	s := &Store{}
	_, err := s.LoadGroups(context.Background())
	assert.ErrorIs(t, err, ErrNoPool)
	assert.ErrorIs(t, s.RecordEvents(context.Background(), []EventRow{{AdID: "1"}}), ErrNoPool)
	assert.Panics(t, func() { s.PgxPool() })
}
