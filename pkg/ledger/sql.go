package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLLedger stores the chain in a relational table. Queries use $n placeholders,
// which both Postgres and SQLite accept.
type SQLLedger struct {
	db    *sql.DB
	mu    sync.Mutex
	clock func() time.Time
}

func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db, clock: time.Now}
}

// WithClock overrides clock for testing.
func (s *SQLLedger) WithClock(clock func() time.Time) *SQLLedger {
	s.clock = clock
	return s
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_entries (
	sequence BIGINT PRIMARY KEY,
	tx_id TEXT NOT NULL UNIQUE,
	intent TEXT NOT NULL,
	contract_version TEXT NOT NULL,
	inputs TEXT NOT NULL,
	signers TEXT NOT NULL,
	payload TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

func (s *SQLLedger) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const selectEntry = `SELECT sequence, tx_id, intent, contract_version, inputs, signers, payload, prev_hash, content_hash, created_at FROM ledger_entries`

func (s *SQLLedger) Append(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE tx_id = $1`, e.TxID).Scan(&exists)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: check duplicate: %w", err)
	}
	if exists > 0 {
		return Entry{}, ErrDuplicate
	}

	var (
		lastSeq  uint64
		prevHash = GenesisHash
	)
	err = tx.QueryRowContext(ctx, `SELECT sequence, content_hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`).
		Scan(&lastSeq, &prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("ledger: read head: %w", err)
	}

	sealed, err := seal(e, lastSeq+1, prevHash, s.clock())
	if err != nil {
		return Entry{}, err
	}

	inputs, err := json.Marshal(nonNilRefs(sealed.Inputs))
	if err != nil {
		return Entry{}, err
	}
	signers, err := json.Marshal(nonNilStrings(sealed.Signers))
	if err != nil {
		return Entry{}, err
	}
	payload := string(sealed.Payload)
	if payload == "" {
		payload = "null"
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (sequence, tx_id, intent, contract_version, inputs, signers, payload, prev_hash, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sealed.Sequence, sealed.TxID, sealed.Intent, sealed.ContractVersion, string(inputs), string(signers),
		payload, sealed.PrevHash, sealed.ContentHash, sealed.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: insert entry %d: %w", sealed.Sequence, err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("ledger: commit: %w", err)
	}
	return sealed, nil
}

func (s *SQLLedger) Get(ctx context.Context, seq uint64) (Entry, error) {
	return s.queryOne(ctx, selectEntry+` WHERE sequence = $1`, seq)
}

func (s *SQLLedger) GetByTxID(ctx context.Context, txID string) (Entry, error) {
	return s.queryOne(ctx, selectEntry+` WHERE tx_id = $1`, txID)
}

func (s *SQLLedger) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectEntry+` ORDER BY sequence`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLLedger) Head(ctx context.Context) (string, error) {
	var h string
	err := s.db.QueryRowContext(ctx, `SELECT content_hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return GenesisHash, nil
	}
	return h, err
}

func (s *SQLLedger) Verify(ctx context.Context) error {
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	return VerifyChain(entries)
}

func (s *SQLLedger) queryOne(ctx context.Context, query string, arg any) (Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                        Entry
		inputs, signers, payload string
		createdAt                string
	)
	err := row.Scan(&e.Sequence, &e.TxID, &e.Intent, &e.ContractVersion, &inputs, &signers, &payload,
		&e.PrevHash, &e.ContentHash, &createdAt)
	if err != nil {
		return Entry{}, err
	}
	if err := json.Unmarshal([]byte(inputs), &e.Inputs); err != nil {
		return Entry{}, fmt.Errorf("ledger: decode inputs of entry %d: %w", e.Sequence, err)
	}
	if err := json.Unmarshal([]byte(signers), &e.Signers); err != nil {
		return Entry{}, fmt.Errorf("ledger: decode signers of entry %d: %w", e.Sequence, err)
	}
	e.Payload = json.RawMessage(payload)
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Entry{}, fmt.Errorf("ledger: decode timestamp of entry %d: %w", e.Sequence, err)
	}
	return e, nil
}

func nonNilRefs(refs []StateRef) []StateRef {
	if refs == nil {
		return []StateRef{}
	}
	return refs
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
