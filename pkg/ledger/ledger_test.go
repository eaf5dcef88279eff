package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func entry(txID string, inputs ...StateRef) Entry {
	return Entry{
		TxID:            txID,
		Intent:          "AddClaim",
		ContractVersion: "3.0.0",
		Inputs:          inputs,
		Signers:         []string{"O=Insurer", "O=Insuree"},
		Payload:         json.RawMessage(`{"policy_number":"P-1"}`),
	}
}

func openSQLite(t *testing.T) *SQLLedger {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	l := NewSQLLedger(db).WithClock(func() time.Time { return fixedNow })
	require.NoError(t, l.Init(context.Background()))
	return l
}

func ledgers(t *testing.T) map[string]Ledger {
	return map[string]Ledger{
		"memory": NewMemoryLedger().WithClock(func() time.Time { return fixedNow }),
		"sqlite": openSQLite(t),
	}
}

func TestLedger_AppendChains(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			head, err := l.Head(ctx)
			require.NoError(t, err)
			assert.Equal(t, GenesisHash, head)

			e1, err := l.Append(ctx, entry("tx-1"))
			require.NoError(t, err)
			e2, err := l.Append(ctx, entry("tx-2", StateRef{TxID: "tx-1", Index: 0}))
			require.NoError(t, err)

			assert.Equal(t, uint64(1), e1.Sequence)
			assert.Equal(t, GenesisHash, e1.PrevHash)
			assert.Equal(t, e1.ContentHash, e2.PrevHash)
			assert.True(t, e1.Timestamp.Equal(fixedNow))

			head, err = l.Head(ctx)
			require.NoError(t, err)
			assert.Equal(t, e2.ContentHash, head)

			got, err := l.GetByTxID(ctx, "tx-2")
			require.NoError(t, err)
			assert.Equal(t, []StateRef{{TxID: "tx-1", Index: 0}}, got.Inputs)
			assert.JSONEq(t, `{"policy_number":"P-1"}`, string(got.Payload))

			byseq, err := l.Get(ctx, 1)
			require.NoError(t, err)
			assert.Equal(t, "tx-1", byseq.TxID)

			all, err := l.List(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)
			assert.NoError(t, l.Verify(ctx))
		})
	}
}

func TestLedger_Errors(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Append(ctx, entry("tx-1"))
			require.NoError(t, err)

			_, err = l.Append(ctx, entry("tx-1"))
			assert.ErrorIs(t, err, ErrDuplicate)

			_, err = l.Get(ctx, 9)
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = l.GetByTxID(ctx, "nope")
			assert.ErrorIs(t, err, ErrNotFound)

			_, err = l.Append(ctx, Entry{})
			assert.Error(t, err)

			bad := entry("tx-2")
			bad.Payload = json.RawMessage(`{not json`)
			_, err = l.Append(ctx, bad)
			assert.Error(t, err)
		})
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	for _, id := range []string{"tx-1", "tx-2", "tx-3"} {
		_, err := l.Append(ctx, entry(id))
		require.NoError(t, err)
	}
	entries, err := l.List(ctx)
	require.NoError(t, err)
	require.NoError(t, VerifyChain(entries))

	tampered := append([]Entry(nil), entries...)
	tampered[1].Payload = json.RawMessage(`{"policy_number":"P-2"}`)
	assert.ErrorIs(t, VerifyChain(tampered), ErrChainBroken)

	relinked := append([]Entry(nil), entries...)
	relinked[2].PrevHash = entries[0].ContentHash
	assert.ErrorIs(t, VerifyChain(relinked), ErrChainBroken)

	assert.ErrorIs(t, VerifyChain(entries[1:]), ErrChainBroken)
}

func TestContentHash_IgnoresTimestampAndWhitespace(t *testing.T) {
	a := entry("tx-1")
	b := entry("tx-1")
	b.Timestamp = fixedNow
	b.Payload = json.RawMessage("{ \"policy_number\" : \"P-1\" }")

	ha, err := ContentHash(a)
	require.NoError(t, err)
	hb, err := ContentHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestStateRef_Parse(t *testing.T) {
	ref := StateRef{TxID: "sha256:ab:cd", Index: 3}
	got, err := ParseStateRef(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	for _, bad := range []string{"", "tx", ":1", "tx:", "tx:-1", "tx:x"} {
		_, err := ParseStateRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestSQLLedger_AppendQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewSQLLedger(db).WithClock(func() time.Time { return fixedNow })

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ledger_entries WHERE tx_id = \$1`).
		WithArgs("tx-2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT sequence, content_hash FROM ledger_entries ORDER BY sequence DESC LIMIT 1`).
		WillReturnRows(sqlmock.NewRows([]string{"sequence", "content_hash"}).AddRow(1, "sha256:prev"))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs(int64(2), "tx-2", "AddClaim", "3.0.0", `[]`, `["O=Insurer","O=Insuree"]`,
			`{"policy_number":"P-1"}`, "sha256:prev", sqlmock.AnyArg(), fixedNow.Format(time.RFC3339Nano)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	e, err := l.Append(context.Background(), entry("tx-2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), e.Sequence)
	assert.Equal(t, "sha256:prev", e.PrevHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLLedger_AppendDuplicateRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM ledger_entries`).
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err = NewSQLLedger(db).Append(context.Background(), entry("tx-1"))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}
