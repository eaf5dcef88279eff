// Package insurance defines the immutable records of the workplace-insurance ledger:
// policies, the claims appended to them, and the participants that sign for them.
//
// Values are built through constructors that reject malformed input and are never
// mutated afterwards. Deriving a new version of a record (appending a claim, deciding
// a proposal) always returns a fresh value.
package insurance

// MaxAmount bounds claim amounts and insured values. It is the largest integer that
// survives a round trip through canonical JSON without loss.
const MaxAmount = 1<<53 - 1

// ClaimStatus is the lifecycle status carried by a claim record.
type ClaimStatus string

const (
	// ClaimStatusNone marks the absence of a claim; it is never stored on a record.
	ClaimStatusNone     ClaimStatus = "None"
	ClaimStatusProposal ClaimStatus = "Proposal"
	ClaimStatusAccepted ClaimStatus = "Accepted"
	ClaimStatusRejected ClaimStatus = "Rejected"
)

// Valid reports whether s is one of the declared statuses, including None.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimStatusNone, ClaimStatusProposal, ClaimStatusAccepted, ClaimStatusRejected:
		return true
	}
	return false
}

// Storable reports whether a claim record may carry s.
func (s ClaimStatus) Storable() bool {
	return s.Valid() && s != ClaimStatusNone
}

// Terminal reports whether s closes a claim number for good.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusAccepted
}

// AccidentType classifies the event behind a claim.
type AccidentType string

const (
	AccidentTypeNone              AccidentType = "None"
	AccidentTypeWorkAccident      AccidentType = "WorkAccident"
	AccidentTypeCommutingAccident AccidentType = "CommutingAccident"
)

func (a AccidentType) Valid() bool {
	switch a {
	case AccidentTypeNone, AccidentTypeWorkAccident, AccidentTypeCommutingAccident:
		return true
	}
	return false
}

// Module is the care setting a claim was raised from.
type Module string

const (
	ModuleNone          Module = "None"
	ModuleUrgency       Module = "Urgency"
	ModuleDayHospital   Module = "DayHospital"
	ModuleExternConsult Module = "ExternConsult"
	ModuleInternment    Module = "Internment"
	ModuleOperatingRoom Module = "OperatingRoom"
)

func (m Module) Valid() bool {
	switch m {
	case ModuleNone, ModuleUrgency, ModuleDayHospital, ModuleExternConsult, ModuleInternment, ModuleOperatingRoom:
		return true
	}
	return false
}

// WorkerDetail describes the insured worker. It is always embedded in a Policy.
type WorkerDetail struct {
	policyNumber string
	name         string
	healthNumber string
	policyHolder string
}

// NewWorkerDetail validates and builds a worker record. The policy number is the
// lookup key of the policy on the ledger and must be present.
func NewWorkerDetail(policyNumber, name, healthNumber, policyHolder string) (WorkerDetail, error) {
	if policyNumber == "" {
		return WorkerDetail{}, invalid("worker", "policy_number", "must not be empty")
	}
	if name == "" {
		return WorkerDetail{}, invalid("worker", "name", "must not be empty")
	}
	return WorkerDetail{
		policyNumber: policyNumber,
		name:         name,
		healthNumber: healthNumber,
		policyHolder: policyHolder,
	}, nil
}

func (w WorkerDetail) PolicyNumber() string { return w.policyNumber }
func (w WorkerDetail) Name() string         { return w.name }
func (w WorkerDetail) HealthNumber() string { return w.healthNumber }
func (w WorkerDetail) PolicyHolder() string { return w.policyHolder }
func (w WorkerDetail) IsZero() bool         { return w == WorkerDetail{} }

// InsuranceDetail is attached to a claim once the insurer accepts it.
type InsuranceDetail struct {
	companyNumber       string
	companyPolicyNumber string
	field               string
}

// NewInsuranceDetail validates and builds an insurance detail. The free-form field
// may be empty.
func NewInsuranceDetail(companyNumber, companyPolicyNumber, field string) (InsuranceDetail, error) {
	if companyNumber == "" {
		return InsuranceDetail{}, invalid("insurance_detail", "insurance_company_number", "must not be empty")
	}
	if companyPolicyNumber == "" {
		return InsuranceDetail{}, invalid("insurance_detail", "insurance_company_policy_number", "must not be empty")
	}
	return InsuranceDetail{
		companyNumber:       companyNumber,
		companyPolicyNumber: companyPolicyNumber,
		field:               field,
	}, nil
}

func (d InsuranceDetail) InsuranceCompanyNumber() string       { return d.companyNumber }
func (d InsuranceDetail) InsuranceCompanyPolicyNumber() string { return d.companyPolicyNumber }
func (d InsuranceDetail) Field() string                        { return d.field }
