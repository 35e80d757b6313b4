package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openlabels/sourcify-bridge/internal/candidate"
	"github.com/openlabels/sourcify-bridge/internal/logging"
)

// joinFilter excludes rows the tag mapper could never use: no chain, no
// address, no language, or the zero address (genesis allocations).
const joinFilter = `
	WHERE cd.chain_id IS NOT NULL
	  AND cd.address IS NOT NULL
	  AND cc.language IS NOT NULL
	  AND cd.address <> '\x0000000000000000000000000000000000000000'::bytea`

const countQuery = `
	SELECT COUNT(*)
	FROM verified_contracts vc
	JOIN contract_deployments cd ON vc.deployment_id = cd.id
	JOIN compiled_contracts cc ON vc.compilation_id = cc.id` + joinFilter

const batchQuery = `
	SELECT
		cd.chain_id,
		'0x' || encode(cd.address, 'hex') AS address,
		CASE WHEN cd.transaction_hash IS NOT NULL
		     THEN '0x' || encode(cd.transaction_hash, 'hex') END AS deployment_tx,
		cd.block_number AS deployment_block,
		CASE WHEN cd.deployer IS NOT NULL
		     THEN '0x' || encode(cd.deployer, 'hex') END AS deployer_address,
		LOWER(cc.language) AS code_language,
		cc.compiler || '-' || cc.version AS code_compiler,
		cc.name AS contract_name
	FROM verified_contracts vc
	JOIN contract_deployments cd ON vc.deployment_id = cd.id
	JOIN compiled_contracts cc ON vc.compilation_id = cc.id` + joinFilter + `
	ORDER BY vc.id
	LIMIT $1 OFFSET $2`

// PostgresSource joins the Sourcify export tables on demand.
type PostgresSource struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// NewPostgresSource connects to the Sourcify database.
func NewPostgresSource(ctx context.Context, dsn string) (*PostgresSource, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresSource{
		pool: pool,
		log:  logging.Component("source"),
	}, nil
}

// Total counts the processable candidates.
func (s *PostgresSource) Total(ctx context.Context) (int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return total, nil
}

// NextBatch fetches one page of joined candidate rows. The raw count
// includes rows skipped for malformed addresses, keeping the caller's
// offset aligned with the query's LIMIT/OFFSET window.
func (s *PostgresSource) NextBatch(ctx context.Context, batchSize int, offset int64) ([]candidate.Record, int, error) {
	start := time.Now()

	rows, err := s.pool.Query(ctx, batchQuery, batchSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query batch at offset %d: %w", offset, err)
	}
	defer rows.Close()

	read := 0
	out := make([]candidate.Record, 0, batchSize)
	for rows.Next() {
		var (
			chainID  int64
			addr     string
			tx       *string
			block    *int64
			deployer *string
			language *string
			compiler *string
			name     *string
		)
		if err := rows.Scan(&chainID, &addr, &tx, &block, &deployer, &language, &compiler, &name); err != nil {
			return nil, 0, fmt.Errorf("scan candidate row: %w", err)
		}
		read++

		address, err := candidate.ParseAddress(addr)
		if err != nil {
			s.log.Warn("skipping malformed address", "address", addr, "chain_id", chainID)
			continue
		}

		out = append(out, candidate.Record{
			Address:         address,
			ChainID:         chainID,
			DeploymentTx:    deref(tx),
			DeploymentBlock: block,
			Deployer:        deref(deployer),
			Language:        deref(language),
			Compiler:        deref(compiler),
			Name:            deref(name),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate batch: %w", err)
	}

	s.log.Debug("fetched batch",
		"offset", offset,
		"rows", read,
		"records", len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, read, nil
}

// Close releases the connection pool.
func (s *PostgresSource) Close() error {
	s.pool.Close()
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
