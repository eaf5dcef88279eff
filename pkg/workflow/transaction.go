package workflow

import (
	"time"

	"github.com/CatarinaFranco94/workers-insurance/pkg/canonicalize"
	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/ledger"
)

// Approval records that a required signer agreed to a transaction.
type Approval struct {
	Party      insurance.Identity `json:"party"`
	ApprovedAt time.Time          `json:"approved_at"`
}

// SignedTransaction is a transaction together with the approvals of its
// required signers. LedgerSequence is set once it is committed.
type SignedTransaction struct {
	ID              string               `json:"id"`
	Nonce           string               `json:"nonce"`
	Intent          contract.Intent      `json:"intent"`
	ContractVersion string               `json:"contract_version"`
	Inputs          []ledger.StateRef    `json:"inputs"`
	InputStates     []insurance.Policy   `json:"-"`
	Outputs         []insurance.Policy   `json:"outputs"`
	RequiredSigners []insurance.Identity `json:"required_signers"`
	Approvals       []Approval           `json:"approvals"`
	LedgerSequence  uint64               `json:"ledger_sequence,omitempty"`
}

// Contract returns the view of tx checked by the validator.
func (tx *SignedTransaction) Contract() contract.Transaction {
	return contract.Transaction{
		Inputs:          tx.InputStates,
		Outputs:         tx.Outputs,
		Intents:         []contract.Intent{tx.Intent},
		RequiredSigners: tx.RequiredSigners,
	}
}

// ApprovedBy reports whether id has approved tx.
func (tx *SignedTransaction) ApprovedBy(id insurance.Identity) bool {
	for _, a := range tx.Approvals {
		if a.Party.Equal(id) {
			return true
		}
	}
	return false
}

// computeID hashes everything a signer agrees to. The nonce keeps two otherwise
// identical transactions apart.
func computeID(tx *SignedTransaction) (string, error) {
	signers := make([]string, len(tx.RequiredSigners))
	for i, s := range tx.RequiredSigners {
		signers[i] = s.Key()
	}
	inputs := tx.Inputs
	if inputs == nil {
		inputs = []ledger.StateRef{}
	}
	return canonicalize.CanonicalHash(struct {
		Nonce           string             `json:"nonce"`
		Intent          string             `json:"intent"`
		ContractVersion string             `json:"contract_version"`
		Inputs          []ledger.StateRef  `json:"inputs"`
		Outputs         []insurance.Policy `json:"outputs"`
		Signers         []string           `json:"signers"`
	}{tx.Nonce, tx.Intent.String(), tx.ContractVersion, inputs, tx.Outputs, signers})
}

// VerifyID recomputes the id of tx.
func VerifyID(tx *SignedTransaction) bool {
	id, err := computeID(tx)
	return err == nil && id == tx.ID
}
