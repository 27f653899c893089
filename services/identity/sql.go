package identity

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util/usql"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLResolver reads the public key to account mapping from a table with
// columns (public_key, account_id). Keys are stored normalised.
type SQLResolver struct {
	logger    ulogger.Logger
	db        *usql.DB
	table     string
	dbTimeout time.Duration
}

// NewSQLResolver creates the identity table if needed.
func NewSQLResolver(ctx context.Context, logger ulogger.Logger, db *usql.DB, table string, dbTimeout time.Duration) (*SQLResolver, error) {
	if !tableNameRe.MatchString(table) {
		return nil, errors.NewConfigurationError("invalid identity table name %q", table)
	}

	if dbTimeout <= 0 {
		dbTimeout = 5 * time.Second
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
		 public_key TEXT PRIMARY KEY
		,account_id TEXT NOT NULL
		);
	`, table)); err != nil {
		return nil, errors.NewStorageError("could not create %s table", table, err)
	}

	return &SQLResolver{
		logger:    logger,
		db:        db,
		table:     table,
		dbTimeout: dbTimeout,
	}, nil
}

func (s *SQLResolver) Resolve(ctx context.Context, publicKey string) (string, error) {
	key, err := NormalizePublicKey(publicKey)
	if err != nil {
		return "", unknownKey(publicKey, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	var accountID string

	err = s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT account_id FROM %s WHERE public_key = $1`, s.table), key).Scan(&accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", unknownKey(publicKey)
		}

		return "", errors.NewStorageError("failed to resolve public key %s", publicKey, err)
	}

	return accountID, nil
}

// Register upserts the mapping for publicKey.
func (s *SQLResolver) Register(ctx context.Context, publicKey, accountID string) error {
	key, err := NormalizePublicKey(publicKey)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.dbTimeout)
	defer cancel()

	if _, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (public_key, account_id) VALUES ($1, $2)
		ON CONFLICT (public_key) DO UPDATE SET account_id = excluded.account_id
	`, s.table), key, accountID); err != nil {
		return errors.NewStorageError("failed to register public key %s", publicKey, err)
	}

	s.logger.Debugf("[Identity] registered %s as %s", key, accountID)

	return nil
}
