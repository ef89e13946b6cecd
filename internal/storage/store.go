package storage

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/nexuschat/backend/internal/storage/zapadapter"
)

// Store is the sole mutation authority over membership, group and message
// state. Every multi-step mutation runs inside a single transaction; callers
// observe either the whole change or none of it.
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New connects a pgx pool using cfg and returns a Store. The pool logs
// through the provided zap logger via zapadapter.
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	poolConfig.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(poolConfig)
	}

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.db.Close()
}
