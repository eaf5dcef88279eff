package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
)

// SQLVault maps policy states onto two tables: one row per recorded policy
// version and one row per claim record of that version.
type SQLVault struct {
	db *sql.DB
}

func NewSQLVault(db *sql.DB) *SQLVault {
	return &SQLVault{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS policy_states (
	tx_id TEXT NOT NULL,
	output_index INTEGER NOT NULL,
	recorded_seq BIGINT NOT NULL,
	policy_number TEXT NOT NULL,
	insured_value BIGINT NOT NULL,
	duration BIGINT NOT NULL,
	insurer TEXT NOT NULL,
	insuree TEXT NOT NULL,
	worker_name TEXT NOT NULL,
	worker_health_number TEXT NOT NULL,
	worker_policy_holder TEXT NOT NULL,
	consumed_by TEXT,
	PRIMARY KEY (tx_id, output_index)
);
CREATE INDEX IF NOT EXISTS policy_states_number ON policy_states (policy_number, recorded_seq);
CREATE UNIQUE INDEX IF NOT EXISTS policy_states_live ON policy_states (policy_number) WHERE consumed_by IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS policy_states_seq ON policy_states (recorded_seq);
CREATE TABLE IF NOT EXISTS policy_claims (
	tx_id TEXT NOT NULL,
	output_index INTEGER NOT NULL,
	position INTEGER NOT NULL,
	claim_number TEXT NOT NULL,
	description TEXT NOT NULL,
	amount BIGINT NOT NULL,
	status TEXT NOT NULL,
	internal_policy_no TEXT NOT NULL,
	accident_date TEXT NOT NULL,
	episode_date TEXT NOT NULL,
	accident_type TEXT NOT NULL,
	module TEXT NOT NULL,
	has_detail BOOLEAN NOT NULL,
	insurance_company_number TEXT NOT NULL,
	insurance_company_policy_number TEXT NOT NULL,
	detail_field TEXT NOT NULL,
	proposer TEXT NOT NULL,
	proposee TEXT NOT NULL,
	PRIMARY KEY (tx_id, output_index, position)
);
`

func (s *SQLVault) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLVault) Record(ctx context.Context, txID string, consumed []ledger.StateRef, outputs []insurance.Policy) ([]StateAndRef, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("vault: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ref := range consumed {
		res, err := tx.ExecContext(ctx,
			`UPDATE policy_states SET consumed_by = $1 WHERE tx_id = $2 AND output_index = $3 AND consumed_by IS NULL`,
			txID, ref.TxID, ref.Index)
		if err != nil {
			return nil, fmt.Errorf("vault: consume %s: %w", ref, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to check rows affected: %w", err)
		}
		if rows == 0 {
			return nil, fmt.Errorf("%w: %s", ErrConsumed, ref)
		}
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(recorded_seq), 0) FROM policy_states`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("vault: read sequence: %w", err)
	}

	out := make([]StateAndRef, 0, len(outputs))
	for i, p := range outputs {
		var live int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM policy_states WHERE policy_number = $1 AND consumed_by IS NULL`,
			p.PolicyNumber()).Scan(&live)
		if err != nil {
			return nil, fmt.Errorf("vault: check policy %s: %w", p.PolicyNumber(), err)
		}
		if live > 0 {
			return nil, fmt.Errorf("%w: %s", ErrPolicyExists, p.PolicyNumber())
		}

		ref := ledger.StateRef{TxID: txID, Index: i}
		seq++
		if err := insertState(ctx, tx, ref, seq, p); err != nil {
			if isLiveConflict(err) {
				return nil, fmt.Errorf("%w: %s", ErrPolicyExists, p.PolicyNumber())
			}
			return nil, err
		}
		out = append(out, StateAndRef{Ref: ref, State: p})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("vault: commit: %w", err)
	}
	return out, nil
}

func insertState(ctx context.Context, tx *sql.Tx, ref ledger.StateRef, seq int64, p insurance.Policy) error {
	w := p.Worker()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO policy_states (tx_id, output_index, recorded_seq, policy_number, insured_value, duration,
			insurer, insuree, worker_name, worker_health_number, worker_policy_holder)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ref.TxID, ref.Index, seq, w.PolicyNumber(), int64(p.InsuredValue()), int64(p.Duration()),
		p.Insurer().Name(), p.Insuree().Name(), w.Name(), w.HealthNumber(), w.PolicyHolder(),
	)
	if err != nil {
		return fmt.Errorf("vault: insert state %s: %w", ref, err)
	}

	for pos, c := range p.Claims() {
		d, hasDetail := c.InsuranceDetail()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO policy_claims (tx_id, output_index, position, claim_number, description, amount, status,
				internal_policy_no, accident_date, episode_date, accident_type, module, has_detail,
				insurance_company_number, insurance_company_policy_number, detail_field, proposer, proposee)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
			ref.TxID, ref.Index, pos, c.ClaimNumber(), c.Description(), c.Amount(), string(c.Status()),
			c.InternalPolicyNo(), formatDate(c.AccidentDate()), formatDate(c.EpisodeDate()),
			string(c.AccidentType()), string(c.Module()), hasDetail,
			d.InsuranceCompanyNumber(), d.InsuranceCompanyPolicyNumber(), d.Field(),
			c.Proposer().Name(), c.Proposee().Name(),
		)
		if err != nil {
			return fmt.Errorf("vault: insert claim %d of %s: %w", pos, ref, err)
		}
	}
	return nil
}

// isLiveConflict reports whether err is a violation of the policy_states_live
// index, i.e. a concurrent writer recorded a current state for the same policy
// number between the live check and the insert.
func isLiveConflict(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" && pqErr.Constraint == "policy_states_live"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: policy_states.policy_number")
}

const selectState = `SELECT tx_id, output_index, insured_value, duration, insurer, insuree,
	policy_number, worker_name, worker_health_number, worker_policy_holder, consumed_by FROM policy_states`

type stateRow struct {
	ref                          ledger.StateRef
	insuredValue, duration       int64
	insurer, insuree             string
	number, name, health, holder string
	consumedBy                   sql.NullString
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (stateRow, error) {
	var r stateRow
	err := row.Scan(&r.ref.TxID, &r.ref.Index, &r.insuredValue, &r.duration, &r.insurer, &r.insuree,
		&r.number, &r.name, &r.health, &r.holder, &r.consumedBy)
	return r, err
}

func (s *SQLVault) Current(ctx context.Context, policyNumber string) (StateAndRef, error) {
	r, err := scanState(s.db.QueryRowContext(ctx,
		selectState+` WHERE policy_number = $1 AND consumed_by IS NULL ORDER BY recorded_seq DESC LIMIT 1`,
		policyNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return StateAndRef{}, ErrNotFound
	}
	if err != nil {
		return StateAndRef{}, err
	}
	return s.load(ctx, r)
}

func (s *SQLVault) Get(ctx context.Context, ref ledger.StateRef) (StateAndRef, error) {
	r, err := scanState(s.db.QueryRowContext(ctx,
		selectState+` WHERE tx_id = $1 AND output_index = $2`, ref.TxID, ref.Index))
	if errors.Is(err, sql.ErrNoRows) {
		return StateAndRef{}, ErrNotFound
	}
	if err != nil {
		return StateAndRef{}, err
	}
	return s.load(ctx, r)
}

func (s *SQLVault) History(ctx context.Context, policyNumber string) ([]StateAndRef, error) {
	rows, err := s.db.QueryContext(ctx, selectState+` WHERE policy_number = $1 ORDER BY recorded_seq`, policyNumber)
	if err != nil {
		return nil, err
	}
	var found []stateRow
	for rows.Next() {
		r, err := scanState(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(found) == 0 {
		return nil, ErrNotFound
	}
	out := make([]StateAndRef, 0, len(found))
	for _, r := range found {
		st, err := s.load(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// load reads the claims of r and rebuilds the policy through its constructors.
func (s *SQLVault) load(ctx context.Context, r stateRow) (StateAndRef, error) {
	claims, err := s.claims(ctx, r.ref)
	if err != nil {
		return StateAndRef{}, err
	}
	insurer, err := insurance.NewIdentity(r.insurer)
	if err != nil {
		return StateAndRef{}, err
	}
	insuree, err := insurance.NewIdentity(r.insuree)
	if err != nil {
		return StateAndRef{}, err
	}
	worker, err := insurance.NewWorkerDetail(r.number, r.name, r.health, r.holder)
	if err != nil {
		return StateAndRef{}, err
	}
	p, err := insurance.NewPolicy(insurance.PolicyParams{
		InsuredValue: uint64(r.insuredValue),
		Duration:     uint32(r.duration),
		Insurer:      insurer,
		Insuree:      insuree,
		Worker:       worker,
		Claims:       claims,
	})
	if err != nil {
		return StateAndRef{}, fmt.Errorf("vault: decode state %s: %w", r.ref, err)
	}
	return StateAndRef{Ref: r.ref, State: p, ConsumedBy: r.consumedBy.String}, nil
}

func (s *SQLVault) claims(ctx context.Context, ref ledger.StateRef) ([]insurance.Claim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT claim_number, description, amount, status, internal_policy_no, accident_date, episode_date,
			accident_type, module, has_detail, insurance_company_number, insurance_company_policy_number,
			detail_field, proposer, proposee
		FROM policy_claims WHERE tx_id = $1 AND output_index = $2 ORDER BY position`,
		ref.TxID, ref.Index)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var claims []insurance.Claim
	for rows.Next() {
		var (
			p                                         insurance.ClaimParams
			status, accidentType, module              string
			accidentDate, episodeDate                 string
			hasDetail                                 bool
			companyNumber, companyPolicyNumber, field string
			proposer, proposee                        string
		)
		if err := rows.Scan(&p.ClaimNumber, &p.Description, &p.Amount, &status, &p.InternalPolicyNo,
			&accidentDate, &episodeDate, &accidentType, &module, &hasDetail,
			&companyNumber, &companyPolicyNumber, &field, &proposer, &proposee); err != nil {
			return nil, err
		}
		p.Status = insurance.ClaimStatus(status)
		p.AccidentType = insurance.AccidentType(accidentType)
		p.Module = insurance.Module(module)
		if p.AccidentDate, err = parseDate(accidentDate); err != nil {
			return nil, err
		}
		if p.EpisodeDate, err = parseDate(episodeDate); err != nil {
			return nil, err
		}
		if hasDetail {
			d, err := insurance.NewInsuranceDetail(companyNumber, companyPolicyNumber, field)
			if err != nil {
				return nil, err
			}
			p.InsuranceDetail = &d
		}
		if p.Proposer, err = insurance.NewIdentity(proposer); err != nil {
			return nil, err
		}
		if p.Proposee, err = insurance.NewIdentity(proposee); err != nil {
			return nil, err
		}
		c, err := insurance.NewClaim(p)
		if err != nil {
			return nil, fmt.Errorf("vault: decode claim of %s: %w", ref, err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
