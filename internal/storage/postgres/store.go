package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"swapScope/internal/catalog"
	"swapScope/internal/model"
	"swapScope/internal/storage"
)

//go:embed schema.sql
var schema string

var (
	_ catalog.PoolStore = (*Store)(nil)
	_ storage.Recorder  = (*Store)(nil)
)

// Store persists discovered pools and quote snapshots in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// UpsertPools inserts or refreshes discovered pools.
func (s *Store) UpsertPools(ctx context.Context, pools []model.PoolCandidate) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		a, b := model.SortPair(pool.TokenA, pool.TokenB)
		batch.Queue(`
			INSERT INTO discovered_pools (
				venue, token_a, token_b, fee_tier, pool_address, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (venue, token_a, token_b, fee_tier)
			DO UPDATE SET
				pool_address = EXCLUDED.pool_address,
				updated_at = now()
		`,
			pool.Venue.Name,
			model.LowerHex(a),
			model.LowerHex(b),
			int64(pool.FeeTier),
			model.LowerHex(pool.Pool),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadPools returns pools refreshed within maxAge. A non-positive maxAge
// returns everything.
func (s *Store) LoadPools(ctx context.Context, maxAge time.Duration) ([]catalog.StoredPool, error) {
	cutoff := time.Unix(0, 0)
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT venue, token_a, token_b, fee_tier, pool_address, updated_at
		FROM discovered_pools
		WHERE updated_at >= $1
		ORDER BY venue, token_a, token_b, fee_tier
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.StoredPool
	for rows.Next() {
		var (
			venue, tokenA, tokenB, pool string
			fee                         int64
			updated                     time.Time
		)
		if err := rows.Scan(&venue, &tokenA, &tokenB, &fee, &pool, &updated); err != nil {
			return nil, err
		}
		out = append(out, catalog.StoredPool{
			VenueName: venue,
			Pool:      common.HexToAddress(pool),
			FeeTier:   uint32(fee),
			TokenA:    common.HexToAddress(tokenA),
			TokenB:    common.HexToAddress(tokenB),
			UpdatedAt: updated,
		})
	}
	return out, rows.Err()
}

// InsertQuoteSnapshots stores one row per attempt of a report, flagging the
// paths the route used.
func (s *Store) InsertQuoteSnapshots(ctx context.Context, report storage.RouteReport) error {
	if len(report.Attempts) == 0 {
		return nil
	}
	selected := make(map[string]bool, len(report.Allocations))
	for _, alloc := range report.Allocations {
		selected[alloc.PathID] = true
	}

	batch := &pgx.Batch{}
	for _, a := range report.Attempts {
		batch.Queue(`
			INSERT INTO quote_snapshots (
				requested_at, token_in, token_out, amount_in, path_id, venue, protocol,
				hops, status, failure, reason, amount_out, latency_ms, selected
			) VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8,$9,$10,$11,$12::numeric,$13,$14)
		`,
			report.Timestamp,
			report.TokenIn,
			report.TokenOut,
			report.AmountIn,
			a.PathID,
			a.Venue,
			a.Protocol,
			a.Hops,
			a.Status,
			nullable(a.Failure),
			nullable(a.Reason),
			nullable(a.AmountOut),
			a.LatencyMS,
			selected[a.PathID],
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range report.Attempts {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// RecordRoute implements storage.Recorder.
func (s *Store) RecordRoute(ctx context.Context, report storage.RouteReport) error {
	return s.InsertQuoteSnapshots(ctx, report)
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
