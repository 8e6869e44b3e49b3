package audit

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS verdicts (
	request_id     TEXT PRIMARY KEY,
	app_id         TEXT,
	origin         TEXT,
	user_agent     TEXT,
	direction      TEXT NOT NULL,
	is_blocked     BOOLEAN NOT NULL,
	block_reason   TEXT,
	combined_score DOUBLE PRECISION NOT NULL,
	escalated      BOOLEAN NOT NULL,
	model_ran      BOOLEAN NOT NULL,
	categories     TEXT[],
	pii_categories TEXT[],
	duration_ms    DOUBLE PRECISION,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertSQL = `
INSERT INTO verdicts
	(request_id, app_id, origin, user_agent, direction, is_blocked, block_reason,
	 combined_score, escalated, model_ran, categories, pii_categories, duration_ms,
	 created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (request_id) DO NOTHING`

// PostgresSink persists verdicts for offline review. Inserts run on a
// background goroutine with their own timeout so a slow database never
// adds latency to a verdict.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresSink{pool: pool}, nil
}

func (s *PostgresSink) Record(_ context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.pool.Exec(ctx, insertSQL,
			e.RequestID, e.AppID, e.Origin, e.UserAgent, e.Direction,
			e.IsBlocked, e.BlockReason, e.CombinedScore, e.Escalated,
			e.ModelStageRan, e.Categories, e.PIICategories, e.DurationMs,
			e.CreatedAt)
		if err != nil {
			log.Printf("[AUDIT] postgres insert failed for %s: %v", e.RequestID, err)
		}
	}()
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
