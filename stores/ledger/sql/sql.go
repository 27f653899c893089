// Package sql implements the ledger query contract over PostgreSQL or SQLite.
//
// Token records live in a single token_records table. Consuming a record
// stamps spent_at rather than deleting the row, so the table stays append-only
// and page queries only look at rows where spent_at IS NULL, ordered by
// (recorded_time, output_index, tx_hash).
package sql

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/bsv-blockchain/tokencache/errors"
	"github.com/bsv-blockchain/tokencache/model"
	"github.com/bsv-blockchain/tokencache/settings"
	"github.com/bsv-blockchain/tokencache/stores/ledger"
	"github.com/bsv-blockchain/tokencache/ulogger"
	"github.com/bsv-blockchain/tokencache/util"
	"github.com/bsv-blockchain/tokencache/util/usql"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Option func(*Store)

// WithFeed publishes every successful Update to fn after the commit.
func WithFeed(fn ledger.FeedFunc) Option {
	return func(s *Store) {
		s.feed = fn
	}
}

type Store struct {
	logger    ulogger.Logger
	db        *usql.DB
	engine    util.SQLEngine
	dbTimeout time.Duration
	feed      ledger.FeedFunc
}

func New(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, storeURL *url.URL, opts ...Option) (*Store, error) {
	initPrometheusMetrics()

	db, err := util.InitSQLDB(logger, storeURL, tSettings)
	if err != nil {
		return nil, errors.NewStorageError("failed to init sql db", err)
	}

	engine := util.SQLEngine(storeURL.Scheme)

	if err = createSchema(ctx, db, engine); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := newStore(logger, db, engine, tSettings.Ledger.DBTimeout)

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func newStore(logger ulogger.Logger, db *usql.DB, engine util.SQLEngine, dbTimeout time.Duration) *Store {
	initPrometheusMetrics()

	if dbTimeout <= 0 {
		dbTimeout = 5 * time.Second
	}

	return &Store{
		logger:    logger,
		db:        db,
		engine:    engine,
		dbTimeout: dbTimeout,
	}
}

func createSchema(ctx context.Context, db *usql.DB, engine util.SQLEngine) error {
	idColumn := "id BIGSERIAL PRIMARY KEY"
	if engine != util.Postgres {
		idColumn = "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS token_records (
		 %s
		,tx_hash          BYTEA NOT NULL
		,output_index     BIGINT NOT NULL
		,value_class      TEXT NOT NULL
		,value_identifier TEXT NOT NULL
		,fraction_digits  INTEGER NOT NULL
		,issuer           TEXT NOT NULL
		,quantity         BIGINT NOT NULL
		,holder           TEXT NOT NULL
		,recorded_time    BIGINT NOT NULL
		,spent_at         BIGINT
		);
	`, idColumn)); err != nil {
		return errors.NewStorageError("could not create token_records table", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS ux_token_records_outpoint ON token_records (tx_hash, output_index);`); err != nil {
		return errors.NewStorageError("could not create ux_token_records_outpoint index", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_token_records_unspent_order ON token_records (recorded_time, output_index, tx_hash) WHERE spent_at IS NULL;`); err != nil {
		return errors.NewStorageError("could not create idx_token_records_unspent_order index", err)
	}

	return nil
}

func (s *Store) Health(ctx context.Context, _ bool) (int, string, error) {
	details := fmt.Sprintf("SQL Engine is %s", s.engine)

	var num int

	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&num); err != nil {
		return http.StatusServiceUnavailable, details, errors.NewStorageUnavailableError("sql ledger not reachable", err)
	}

	return http.StatusOK, details, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Page(ctx context.Context, criteria ledger.Criteria, sort ledger.Sort, spec ledger.PageSpec) (*ledger.Page, error) {
	prometheusLedgerPage.Inc()

	if spec.Number < 1 || spec.Size < 1 {
		return nil, errors.NewInvalidArgumentError("invalid %s", spec)
	}

	if !slices.Equal(sort.Fields, ledger.RecordOrder().Fields) {
		return nil, errors.NewInvalidArgumentError("sql ledger only supports the record order sort")
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	args := make([]interface{}, 0, len(criteria.Classes)+2)

	var classFilter string

	if len(criteria.Classes) > 0 {
		placeholders := make([]string, 0, len(criteria.Classes))

		for _, class := range criteria.Classes {
			args = append(args, class)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}

		classFilter = fmt.Sprintf("AND value_class IN (%s)", strings.Join(placeholders, ","))
	}

	args = append(args, spec.Size, spec.Offset())

	q := fmt.Sprintf(`
		SELECT
		 tx_hash
		,output_index
		,value_class
		,value_identifier
		,fraction_digits
		,issuer
		,quantity
		,holder
		,recorded_time
		FROM token_records
		WHERE spent_at IS NULL %s
		ORDER BY recorded_time, output_index, tx_hash
		LIMIT $%d OFFSET $%d
	`, classFilter, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		prometheusLedgerErrors.WithLabelValues("Page").Inc()
		return nil, errors.NewStorageError("failed to query %s", spec, err)
	}

	defer rows.Close()

	page := &ledger.Page{
		Spec:    spec,
		Records: make([]*model.TokenRecord, 0, spec.Size),
	}

	for rows.Next() {
		var (
			txHashBytes  []byte
			outputIndex  uint32
			value        model.IssuedValue
			quantity     uint64
			holder       string
			recordedTime int64
		)

		if err = rows.Scan(&txHashBytes, &outputIndex, &value.Type.Class, &value.Type.Identifier, &value.Type.FractionDigits,
			&value.Issuer, &quantity, &holder, &recordedTime); err != nil {
			prometheusLedgerErrors.WithLabelValues("Page").Inc()
			return nil, errors.NewStorageError("failed to scan token record", err)
		}

		txHash, err := chainhash.NewHash(txHashBytes)
		if err != nil {
			return nil, errors.NewStorageError("invalid tx hash in token_records", err)
		}

		id := model.NewRecordID(*txHash, outputIndex)
		page.Records = append(page.Records, model.NewTokenRecord(id, value, quantity, holder, time.Unix(0, recordedTime).UTC()))
	}

	if err = rows.Err(); err != nil {
		prometheusLedgerErrors.WithLabelValues("Page").Inc()
		return nil, errors.NewStorageError("failed to read %s", spec, err)
	}

	return page, nil
}

func (s *Store) Insert(ctx context.Context, records ...*model.TokenRecord) error {
	return s.Update(ctx, nil, records)
}

func (s *Store) Consume(ctx context.Context, ids ...model.RecordID) error {
	return s.Update(ctx, ids, nil)
}

// Update inserts the produced records and marks the consumed ones as spent in
// a single database transaction.
func (s *Store) Update(ctx context.Context, consumed []model.RecordID, produced []*model.TokenRecord) error {
	if err := s.update(ctx, consumed, produced); err != nil {
		prometheusLedgerErrors.WithLabelValues("Update").Inc()
		return err
	}

	prometheusLedgerInsert.Add(float64(len(produced)))
	prometheusLedgerConsume.Add(float64(len(consumed)))

	if s.feed != nil {
		if err := s.feed(ctx, consumed, produced); err != nil {
			return errors.NewProcessingError("failed to publish ledger update", err)
		}
	}

	return nil
}

func (s *Store) update(ctx context.Context, consumed []model.RecordID, produced []*model.TokenRecord) error {
	ctx, cancelTimeout := context.WithTimeout(ctx, s.dbTimeout)
	defer cancelTimeout()

	txn, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorageError("failed to begin ledger transaction", err)
	}

	defer func() {
		_ = txn.Rollback()
	}()

	q := `
		INSERT INTO token_records (
		 tx_hash
		,output_index
		,value_class
		,value_identifier
		,fraction_digits
		,issuer
		,quantity
		,holder
		,recorded_time
		) VALUES (
		 $1
		,$2
		,$3
		,$4
		,$5
		,$6
		,$7
		,$8
		,$9
		)
	`

	for _, record := range produced {
		quantity, err := safeconversion.Uint64ToInt64(record.Quantity)
		if err != nil {
			return errors.NewInvalidArgumentError("quantity of %s does not fit the ledger", record.ID, err)
		}

		_, err = txn.ExecContext(ctx, q, record.ID.TxID[:], record.ID.Index, record.Value.Type.Class, record.Value.Type.Identifier,
			record.Value.Type.FractionDigits, record.Value.Issuer, quantity, record.Holder, record.Meta.RecordedTime.UnixNano())
		if err != nil {
			if isUniqueViolation(err) {
				return errors.NewRecordExistsError("record %s already exists in %s ledger", record.ID, s.engine, err)
			}

			return errors.NewStorageError("failed to insert record %s", record.ID, err)
		}
	}

	q = `
		UPDATE token_records
		SET spent_at = $1
		WHERE tx_hash = $2
		  AND output_index = $3
		  AND spent_at IS NULL
	`

	spentAt := time.Now().UnixNano()

	for _, id := range consumed {
		result, err := txn.ExecContext(ctx, q, spentAt, id.TxID[:], id.Index)
		if err != nil {
			return errors.NewStorageError("failed to consume record %s", id, err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return errors.NewStorageError("failed to consume record %s", id, err)
		}

		if affected == 0 {
			return errors.NewNotFoundError("unspent record %s not found in ledger", id)
		}
	}

	if err = txn.Commit(); err != nil {
		return errors.NewStorageError("failed to commit ledger transaction", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return true
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}

	return false
}
