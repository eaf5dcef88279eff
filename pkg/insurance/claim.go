package insurance

import "time"

// ClaimParams carries the fields of a new claim record.
type ClaimParams struct {
	ClaimNumber      string
	Description      string
	Amount           int64
	Status           ClaimStatus
	InternalPolicyNo string
	AccidentDate     time.Time
	EpisodeDate      time.Time
	AccidentType     AccidentType
	Module           Module
	InsuranceDetail  *InsuranceDetail
	Proposer         Identity
	Proposee         Identity
}

// Claim is one immutable record of a claim event against a policy. The same claim
// number appears on several records as the claim moves through its lifecycle.
type Claim struct {
	claimNumber      string
	description      string
	amount           int64
	status           ClaimStatus
	internalPolicyNo string
	accidentDate     time.Time
	episodeDate      time.Time
	accidentType     AccidentType
	module           Module
	detail           *InsuranceDetail
	proposer         Identity
	proposee         Identity
}

// NewClaim validates p and builds a claim record.
func NewClaim(p ClaimParams) (Claim, error) {
	if p.AccidentType == "" {
		p.AccidentType = AccidentTypeNone
	}
	if p.Module == "" {
		p.Module = ModuleNone
	}

	switch {
	case p.ClaimNumber == "":
		return Claim{}, invalid("claim", "claim_number", "must not be empty")
	case p.Amount < 0:
		return Claim{}, invalid("claim", "amount", "must not be negative")
	case p.Amount > MaxAmount:
		return Claim{}, invalid("claim", "amount", "exceeds the maximum claim amount")
	case !p.Status.Storable():
		return Claim{}, invalid("claim", "status", "must be Proposal, Accepted or Rejected")
	}
	if !p.AccidentType.Valid() {
		return Claim{}, invalid("claim", "accident_type", "is not a known accident type")
	}
	if !p.Module.Valid() {
		return Claim{}, invalid("claim", "module", "is not a known module")
	}
	if p.Proposer.IsZero() {
		return Claim{}, invalid("claim", "proposer", "must be set")
	}
	if p.Proposee.IsZero() {
		return Claim{}, invalid("claim", "proposee", "must be set")
	}

	c := Claim{
		claimNumber:      p.ClaimNumber,
		description:      p.Description,
		amount:           p.Amount,
		status:           p.Status,
		internalPolicyNo: p.InternalPolicyNo,
		accidentDate:     normalizeDate(p.AccidentDate),
		episodeDate:      normalizeDate(p.EpisodeDate),
		accidentType:     p.AccidentType,
		module:           p.Module,
		proposer:         p.Proposer,
		proposee:         p.Proposee,
	}
	if p.InsuranceDetail != nil {
		d := *p.InsuranceDetail
		c.detail = &d
	}
	return c, nil
}

func normalizeDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Round(0)
}

func (c Claim) ClaimNumber() string        { return c.claimNumber }
func (c Claim) Description() string        { return c.description }
func (c Claim) Amount() int64              { return c.amount }
func (c Claim) Status() ClaimStatus        { return c.status }
func (c Claim) InternalPolicyNo() string   { return c.internalPolicyNo }
func (c Claim) AccidentDate() time.Time    { return c.accidentDate }
func (c Claim) EpisodeDate() time.Time     { return c.episodeDate }
func (c Claim) AccidentType() AccidentType { return c.accidentType }
func (c Claim) Module() Module             { return c.module }
func (c Claim) Proposer() Identity         { return c.proposer }
func (c Claim) Proposee() Identity         { return c.proposee }

// InsuranceDetail returns the detail attached on acceptance, if any.
func (c Claim) InsuranceDetail() (InsuranceDetail, bool) {
	if c.detail == nil {
		return InsuranceDetail{}, false
	}
	return *c.detail, true
}

// HasInsuranceDetail reports whether an insurance detail is attached.
func (c Claim) HasInsuranceDetail() bool { return c.detail != nil }

// IsZero reports whether c was never built by NewClaim.
func (c Claim) IsZero() bool { return c.claimNumber == "" }

// Params returns the fields of c, ready to be altered and passed to NewClaim.
func (c Claim) Params() ClaimParams {
	p := ClaimParams{
		ClaimNumber:      c.claimNumber,
		Description:      c.description,
		Amount:           c.amount,
		Status:           c.status,
		InternalPolicyNo: c.internalPolicyNo,
		AccidentDate:     c.accidentDate,
		EpisodeDate:      c.episodeDate,
		AccidentType:     c.accidentType,
		Module:           c.module,
		Proposer:         c.proposer,
		Proposee:         c.proposee,
	}
	if c.detail != nil {
		d := *c.detail
		p.InsuranceDetail = &d
	}
	return p
}

// Successor builds the record that follows c for the same claim number: the claim
// data is carried over while status, detail and the two parties are replaced.
func (c Claim) Successor(status ClaimStatus, detail *InsuranceDetail, proposer, proposee Identity) (Claim, error) {
	p := c.Params()
	p.Status = status
	p.InsuranceDetail = detail
	p.Proposer = proposer
	p.Proposee = proposee
	return NewClaim(p)
}

// Equal compares two claims field by field.
func (c Claim) Equal(other Claim) bool {
	if c.claimNumber != other.claimNumber ||
		c.description != other.description ||
		c.amount != other.amount ||
		c.status != other.status ||
		c.internalPolicyNo != other.internalPolicyNo ||
		!c.accidentDate.Equal(other.accidentDate) ||
		!c.episodeDate.Equal(other.episodeDate) ||
		c.accidentType != other.accidentType ||
		c.module != other.module ||
		!c.proposer.Equal(other.proposer) ||
		!c.proposee.Equal(other.proposee) {
		return false
	}
	if (c.detail == nil) != (other.detail == nil) {
		return false
	}
	return c.detail == nil || *c.detail == *other.detail
}
