// Package ledger is the append-only, hash-chained record of committed transactions.
//
// Each entry carries the hash of its predecessor; the first entry chains from
// GenesisHash. Entries are never updated or removed.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/CatarinaFranco94/workers-insurance/pkg/canonicalize"
)

// GenesisHash is the previous hash of the first entry.
const GenesisHash = "genesis"

var (
	ErrNotFound    = errors.New("ledger: entry not found")
	ErrDuplicate   = errors.New("ledger: transaction already recorded")
	ErrChainBroken = errors.New("ledger: hash chain broken")
)

// StateRef names one output of a committed transaction.
type StateRef struct {
	TxID  string `json:"tx_id"`
	Index int    `json:"index"`
}

func (r StateRef) String() string {
	return r.TxID + ":" + strconv.Itoa(r.Index)
}

// ParseStateRef parses the "<tx id>:<index>" form produced by String.
func ParseStateRef(s string) (StateRef, error) {
	i := strings.LastIndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return StateRef{}, fmt.Errorf("invalid state ref %q", s)
	}
	idx, err := strconv.Atoi(s[i+1:])
	if err != nil || idx < 0 {
		return StateRef{}, fmt.Errorf("invalid state ref index %q", s)
	}
	return StateRef{TxID: s[:i], Index: idx}, nil
}

// Entry is one committed transaction. Sequence, PrevHash, ContentHash and
// Timestamp are assigned by Append.
type Entry struct {
	Sequence        uint64          `json:"sequence"`
	TxID            string          `json:"tx_id"`
	Intent          string          `json:"intent"`
	ContractVersion string          `json:"contract_version"`
	Inputs          []StateRef      `json:"inputs"`
	Signers         []string        `json:"signers"`
	Payload         json.RawMessage `json:"payload"`
	PrevHash        string          `json:"prev_hash"`
	ContentHash     string          `json:"content_hash"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Ledger is implemented by MemoryLedger and SQLLedger.
type Ledger interface {
	// Append seals e onto the head of the chain and returns the stored entry.
	Append(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, seq uint64) (Entry, error)
	GetByTxID(ctx context.Context, txID string) (Entry, error)
	// List returns every entry in sequence order.
	List(ctx context.Context) ([]Entry, error)
	// Head returns the content hash of the last entry, or GenesisHash.
	Head(ctx context.Context) (string, error)
	// Verify recomputes the whole chain.
	Verify(ctx context.Context) error
}

// ContentHash computes the hash that seals e. The timestamp is not covered so
// that replaying the same transactions yields the same chain.
func ContentHash(e Entry) (string, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	inputs := e.Inputs
	if inputs == nil {
		inputs = []StateRef{}
	}
	signers := e.Signers
	if signers == nil {
		signers = []string{}
	}
	return canonicalize.CanonicalHash(struct {
		Seq             uint64          `json:"seq"`
		TxID            string          `json:"tx_id"`
		Intent          string          `json:"intent"`
		ContractVersion string          `json:"contract_version"`
		Inputs          []StateRef      `json:"inputs"`
		Signers         []string        `json:"signers"`
		Payload         json.RawMessage `json:"payload"`
		PrevHash        string          `json:"prev"`
	}{e.Sequence, e.TxID, e.Intent, e.ContractVersion, inputs, signers, payload, e.PrevHash})
}

func seal(e Entry, seq uint64, prev string, now time.Time) (Entry, error) {
	if e.TxID == "" {
		return Entry{}, errors.New("ledger: entry has no transaction id")
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return Entry{}, fmt.Errorf("ledger: payload of %s is not valid JSON", e.TxID)
	}
	e.Sequence = seq
	e.PrevHash = prev
	e.Timestamp = now.UTC()
	h, err := ContentHash(e)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: hash entry %d: %w", seq, err)
	}
	e.ContentHash = h
	return e, nil
}

// VerifyChain checks sequence numbering, predecessor links and content hashes of
// entries, which must be in sequence order.
func VerifyChain(entries []Entry) error {
	prev := GenesisHash
	for i, e := range entries {
		if want := uint64(i) + 1; e.Sequence != want {
			return fmt.Errorf("%w: expected sequence %d, got %d", ErrChainBroken, want, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("%w at entry %d: expected prev %s, got %s", ErrChainBroken, e.Sequence, prev, e.PrevHash)
		}
		h, err := ContentHash(e)
		if err != nil {
			return err
		}
		if h != e.ContentHash {
			return fmt.Errorf("%w at entry %d: content hash mismatch", ErrChainBroken, e.Sequence)
		}
		prev = e.ContentHash
	}
	return nil
}
