package storage

import (
	"ad-decision-engine/internal/config"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

var ErrNoPool = errors.New("pgx pool is nil")

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Config) (*Store, error) {
	dsn := cfg.DSN()
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxOpenConns)
	poolCfg.MinConns = int32(cfg.Postgres.MaxIdleConns)
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.pool == nil {
		return ErrNoPool
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// LoadGroups loads every group with its ads and targeting rules, ads in
// stored position order and rules in chain order.
func (s *Store) LoadGroups(ctx context.Context) ([]GroupRow, error) {
	if s.pool == nil {
		return nil, ErrNoPool
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	groups, order, err := s.loadGroupHeaders(ctx)
	if err != nil {
		return nil, err
	}
	ads, err := s.loadAds(ctx, groups)
	if err != nil {
		return nil, err
	}
	if err := s.loadRules(ctx, groups, ads); err != nil {
		return nil, err
	}

	// flatten map → slice
	out := make([]GroupRow, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out, nil
}

func (s *Store) loadGroupHeaders(ctx context.Context) (map[string]*GroupRow, []string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, order_method FROM ad_groups ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	groups := map[string]*GroupRow{}
	var order []string
	for rows.Next() {
		var g GroupRow
		if err := rows.Scan(&g.ID, &g.OrderMethod); err != nil {
			return nil, nil, fmt.Errorf("scan group: %w", err)
		}
		groups[g.ID] = &g
		order = append(order, g.ID)
	}
	return groups, order, rows.Err()
}

type adKey struct{ group, ad string }

func (s *Store) loadAds(ctx context.Context, groups map[string]*GroupRow) (map[adKey]*AdRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT group_id, id, title, weight, active, markup, tracking_id
		FROM ads
		ORDER BY group_id, position, id
	`)
	if err != nil {
		return nil, fmt.Errorf("query ads: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			groupID string
			a       AdRow
		)
		if err := rows.Scan(&groupID, &a.ID, &a.Title, &a.Weight, &a.Active, &a.Markup, &a.TrackingID); err != nil {
			return nil, fmt.Errorf("scan ad: %w", err)
		}
		if g, ok := groups[groupID]; ok {
			g.Ads = append(g.Ads, a)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// index after appends so pointers stay valid
	idx := map[adKey]*AdRow{}
	for gid, g := range groups {
		for i := range g.Ads {
			idx[adKey{gid, g.Ads[i].ID}] = &g.Ads[i]
		}
	}
	return idx, nil
}

func (s *Store) loadRules(ctx context.Context, groups map[string]*GroupRow, ads map[adKey]*AdRow) error {
	rows, err := s.pool.Query(ctx, `
		SELECT group_id, COALESCE(ad_id, ''), targeting_type, target_key, condition, vals, logic_op
		FROM targeting_rules
		ORDER BY group_id, ad_id NULLS FIRST, targeting_type, position
	`)
	if err != nil {
		return fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			groupID, adID, typ string
			r                  RuleRow
		)
		if err := rows.Scan(&groupID, &adID, &typ, &r.TargetKey, &r.Condition, &r.Values, &r.LogicOp); err != nil {
			return fmt.Errorf("scan rule: %w", err)
		}
		switch {
		case adID == "":
			if g, ok := groups[groupID]; ok {
				g.Targeting = appendRule(g.Targeting, typ, r)
			}
		default:
			if a, ok := ads[adKey{groupID, adID}]; ok {
				a.Targeting = appendRule(a.Targeting, typ, r)
			}
		}
	}
	return rows.Err()
}

// appendRule adds r to the ruleset of type typ, creating it on first use.
func appendRule(sets []RulesetRow, typ string, r RuleRow) []RulesetRow {
	for i := range sets {
		if sets[i].Type == typ {
			sets[i].Rules = append(sets[i].Rules, r)
			return sets
		}
	}
	return append(sets, RulesetRow{Type: typ, Rules: []RuleRow{r}})
}

// RecordEvents stores collector events in one round trip.
func (s *Store) RecordEvents(ctx context.Context, events []EventRow) error {
	if s.pool == nil {
		return ErrNoPool
	}
	if len(events) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range events {
		b.Queue(`INSERT INTO ad_events (id, ad_id, action, occurred_at) VALUES ($1, $2, $3, to_timestamp($4::double precision / 1000))`,
			e.ID, e.AdID, e.Action, e.At)
	}
	br := s.pool.SendBatch(ctx, b)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

func (s *Store) ListenChannel() string {
	return "adcmdr_data_change"
}

func (s *Store) PgxPool() *pgxpool.Pool {
	if s.pool == nil {
		panic(ErrNoPool)
	}
	return s.pool
}
