package insurance

// PolicyParams carries the fields of a new policy version.
type PolicyParams struct {
	InsuredValue uint64
	Duration     uint32
	Insurer      Identity
	Insuree      Identity
	Worker       WorkerDetail
	Claims       []Claim
}

// Policy is the ledger state of one insurance contract together with its full
// claim history. Claims are append-only: every claim transition produces a new
// Policy carrying the previous claims plus one record at the tail.
type Policy struct {
	insuredValue uint64
	duration     uint32
	insurer      Identity
	insuree      Identity
	worker       WorkerDetail
	claims       []Claim
}

// NewPolicy validates p and builds a policy. The claim slice is copied.
func NewPolicy(p PolicyParams) (Policy, error) {
	switch {
	case p.InsuredValue > MaxAmount:
		return Policy{}, invalid("policy", "insured_value", "exceeds the maximum amount")
	case p.Insurer.IsZero():
		return Policy{}, invalid("policy", "insurer", "must be set")
	case p.Insuree.IsZero():
		return Policy{}, invalid("policy", "insuree", "must be set")
	case p.Insurer.Equal(p.Insuree):
		return Policy{}, invalid("policy", "insuree", "must differ from the insurer")
	case p.Worker.IsZero():
		return Policy{}, invalid("policy", "worker", "must be set")
	}
	for _, c := range p.Claims {
		if c.IsZero() {
			return Policy{}, invalid("policy", "claims", "must not contain empty claims")
		}
	}

	var claims []Claim
	if len(p.Claims) > 0 {
		claims = make([]Claim, len(p.Claims))
		copy(claims, p.Claims)
	}
	return Policy{
		insuredValue: p.InsuredValue,
		duration:     p.Duration,
		insurer:      p.Insurer,
		insuree:      p.Insuree,
		worker:       p.Worker,
		claims:       claims,
	}, nil
}

func (p Policy) InsuredValue() uint64 { return p.insuredValue }
func (p Policy) Duration() uint32     { return p.duration }
func (p Policy) Insurer() Identity    { return p.insurer }
func (p Policy) Insuree() Identity    { return p.insuree }
func (p Policy) Worker() WorkerDetail { return p.worker }

// IsZero reports whether p was never built by NewPolicy.
func (p Policy) IsZero() bool { return p.worker.IsZero() }

// PolicyNumber is shorthand for the worker's policy number.
func (p Policy) PolicyNumber() string { return p.worker.policyNumber }

// Participants returns the two parties of the policy.
func (p Policy) Participants() []Identity {
	return []Identity{p.insuree, p.insurer}
}

// IsParticipant reports whether id is the insurer or the insuree.
func (p Policy) IsParticipant(id Identity) bool {
	return p.insurer.Equal(id) || p.insuree.Equal(id)
}

// Claims returns a copy of the claim history, oldest first.
func (p Policy) Claims() []Claim {
	out := make([]Claim, len(p.claims))
	copy(out, p.claims)
	return out
}

// ClaimCount returns the number of claim records.
func (p Policy) ClaimCount() int { return len(p.claims) }

// ClaimAt returns the claim record at position i.
func (p Policy) ClaimAt(i int) Claim { return p.claims[i] }

// LastClaim returns the most recently appended claim record.
func (p Policy) LastClaim() (Claim, bool) {
	if len(p.claims) == 0 {
		return Claim{}, false
	}
	return p.claims[len(p.claims)-1], true
}

// LatestClaim returns the most recently appended record for claimNumber.
func (p Policy) LatestClaim(claimNumber string) (Claim, bool) {
	for i := len(p.claims) - 1; i >= 0; i-- {
		if p.claims[i].claimNumber == claimNumber {
			return p.claims[i], true
		}
	}
	return Claim{}, false
}

// CurrentStatus returns the status of the most recent record for claimNumber, or
// ClaimStatusNone when the number was never proposed.
func (p Policy) CurrentStatus(claimNumber string) ClaimStatus {
	c, ok := p.LatestClaim(claimNumber)
	if !ok {
		return ClaimStatusNone
	}
	return c.status
}

// WithClaim returns a new policy version with c appended. The receiver is left
// untouched.
func (p Policy) WithClaim(c Claim) Policy {
	next := p
	next.claims = make([]Claim, len(p.claims), len(p.claims)+1)
	copy(next.claims, p.claims)
	next.claims = append(next.claims, c)
	return next
}

// SameTerms reports whether p and other share insured value, duration,
// participants and worker.
func (p Policy) SameTerms(other Policy) bool {
	return p.insuredValue == other.insuredValue &&
		p.duration == other.duration &&
		p.insurer.Equal(other.insurer) &&
		p.insuree.Equal(other.insuree) &&
		p.worker == other.worker
}

// HasClaimPrefix reports whether the claim history of p starts with every claim
// of prefix, in order.
func (p Policy) HasClaimPrefix(prefix Policy) bool {
	if len(prefix.claims) > len(p.claims) {
		return false
	}
	for i, c := range prefix.claims {
		if !p.claims[i].Equal(c) {
			return false
		}
	}
	return true
}

// Equal compares two policies structurally.
func (p Policy) Equal(other Policy) bool {
	return p.SameTerms(other) &&
		len(p.claims) == len(other.claims) &&
		p.HasClaimPrefix(other)
}
