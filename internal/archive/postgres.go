package archive

import (
	"context"
	"database/sql"
	"embed"
	stderrors "errors"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/aaronsjsu/Cryptocurrency-zkSNARK-Project/internal/zerocash"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	insertBlock = `INSERT INTO blocks (id, height, prev_hash, proof, mined_at, tx_count, coinbase, data)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`
	insertTransaction = `INSERT INTO transactions (id, block_id, position, cm, sn)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT DO NOTHING`
	insertNullifier = `INSERT INTO nullifiers (sn, block_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`
	selectLatest = `SELECT data FROM blocks ORDER BY height DESC, archived_at ASC LIMIT 1`
)

// PostgresOutput archives blocks into the blocks, transactions and nullifiers tables.
type PostgresOutput struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPostgresOutput connects to dsn through the pgx driver and migrates the schema.
func NewPostgresOutput(ctx context.Context, dsn string, log zerolog.Logger) (*PostgresOutput, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connect to postgres")
	}
	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgresOutputFromDB(db, log), nil
}

// NewPostgresOutputFromDB wraps an open database whose schema is already migrated.
func NewPostgresOutputFromDB(db *sql.DB, log zerolog.Logger) *PostgresOutput {
	return &PostgresOutput{db: db, log: log.With().Str("component", "archive").Logger()}
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB, log zerolog.Logger) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "load migrations")
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return errors.Wrap(err, "migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return errors.Wrap(err, "migration setup")
	}
	if err := m.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	version, dirty, _ := m.Version()
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("archive schema ready")
	return nil
}

func (o *PostgresOutput) WriteBlock(ctx context.Context, b *zerocash.Block) error {
	id := b.ID()
	data, err := b.Serialize()
	if err != nil {
		return errors.Wrapf(err, "encode block %s", id.Short())
	}

	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, insertBlock,
		id.String(),
		int64(b.ChainLength()),
		b.PrevBlockHash().String(),
		int64(b.Proof()),
		b.Timestamp().UTC(),
		b.NumTransactions(),
		len(b.CoinbaseTransactions()),
		string(data),
	)
	if err != nil {
		return errors.Wrapf(err, "insert block %s", id.Short())
	}

	for i, t := range b.Transactions() {
		sn, err := t.SerialNumber()
		if err != nil {
			return errors.Wrapf(err, "transaction %d of block %s", i, id.Short())
		}
		if _, err := tx.ExecContext(ctx, insertTransaction, t.ID().String(), id.String(), i, t.Cm.String(), sn.String()); err != nil {
			return errors.Wrapf(err, "insert transaction %s", t.ID().Short())
		}
		if _, err := tx.ExecContext(ctx, insertNullifier, sn.String(), id.String()); err != nil {
			return errors.Wrapf(err, "insert nullifier %s", sn.Short())
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	o.log.Debug().Str("block", id.Short()).Uint64("height", b.ChainLength()).Msg("archived block")
	return nil
}

func (o *PostgresOutput) GetLatestBlock(ctx context.Context) (*zerocash.Block, error) {
	var data []byte
	err := o.db.QueryRowContext(ctx, selectLatest).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query latest block")
	}
	b, err := zerocash.DeserializeBlock(data)
	if err != nil {
		return nil, errors.WithMessage(err, "latest archived block")
	}
	return b, nil
}

func (o *PostgresOutput) Close() error {
	return o.db.Close()
}

// Hook adapts out to the block hook of a participant. Failures are logged, never returned.
func Hook(ctx context.Context, out Output, timeout time.Duration, log zerolog.Logger) func(*zerocash.Block) {
	return func(b *zerocash.Block) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := out.WriteBlock(ctx, b); err != nil {
			log.Warn().Err(err).Str("block", b.ID().Short()).Msg("archive write failed")
		}
	}
}
