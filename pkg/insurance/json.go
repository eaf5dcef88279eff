package insurance

import (
	"encoding/json"
	"time"
)

// Wire forms. Decoding goes back through the constructors so a decoded value obeys
// the same invariants as a freshly built one.

type workerJSON struct {
	PolicyNumber string `json:"policy_number"`
	Name         string `json:"name"`
	HealthNumber string `json:"health_number,omitempty"`
	PolicyHolder string `json:"policy_holder,omitempty"`
}

type detailJSON struct {
	InsuranceCompanyNumber       string `json:"insurance_company_number"`
	InsuranceCompanyPolicyNumber string `json:"insurance_company_policy_number"`
	Field                        string `json:"field,omitempty"`
}

type claimJSON struct {
	ClaimNumber      string       `json:"claim_number"`
	Description      string       `json:"description"`
	Amount           int64        `json:"amount"`
	Status           ClaimStatus  `json:"status"`
	InternalPolicyNo string       `json:"internal_policy_no,omitempty"`
	AccidentDate     time.Time    `json:"accident_date,omitzero"`
	EpisodeDate      time.Time    `json:"episode_date,omitzero"`
	AccidentType     AccidentType `json:"accident_type"`
	Module           Module       `json:"module"`
	InsuranceDetail  *detailJSON  `json:"insurance_detail,omitempty"`
	Proposer         Identity     `json:"proposer"`
	Proposee         Identity     `json:"proposee"`
}

type policyJSON struct {
	InsuredValue uint64     `json:"insured_value"`
	Duration     uint32     `json:"duration"`
	Insurer      Identity   `json:"insurer"`
	Insuree      Identity   `json:"insuree"`
	Worker       workerJSON `json:"worker"`
	Claims       []Claim    `json:"claims"`
}

func (w WorkerDetail) MarshalJSON() ([]byte, error) {
	return json.Marshal(workerJSON{
		PolicyNumber: w.policyNumber,
		Name:         w.name,
		HealthNumber: w.healthNumber,
		PolicyHolder: w.policyHolder,
	})
}

func (w *WorkerDetail) UnmarshalJSON(data []byte) error {
	var raw workerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := NewWorkerDetail(raw.PolicyNumber, raw.Name, raw.HealthNumber, raw.PolicyHolder)
	if err != nil {
		return err
	}
	*w = v
	return nil
}

func (d InsuranceDetail) MarshalJSON() ([]byte, error) {
	return json.Marshal(toDetailJSON(d))
}

func (d *InsuranceDetail) UnmarshalJSON(data []byte) error {
	var raw detailJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := raw.toDomain()
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func toDetailJSON(d InsuranceDetail) detailJSON {
	return detailJSON{
		InsuranceCompanyNumber:       d.companyNumber,
		InsuranceCompanyPolicyNumber: d.companyPolicyNumber,
		Field:                        d.field,
	}
}

func (d detailJSON) toDomain() (InsuranceDetail, error) {
	return NewInsuranceDetail(d.InsuranceCompanyNumber, d.InsuranceCompanyPolicyNumber, d.Field)
}

func (c Claim) MarshalJSON() ([]byte, error) {
	raw := claimJSON{
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
		d := toDetailJSON(*c.detail)
		raw.InsuranceDetail = &d
	}
	return json.Marshal(raw)
}

func (c *Claim) UnmarshalJSON(data []byte) error {
	var raw claimJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p := ClaimParams{
		ClaimNumber:      raw.ClaimNumber,
		Description:      raw.Description,
		Amount:           raw.Amount,
		Status:           raw.Status,
		InternalPolicyNo: raw.InternalPolicyNo,
		AccidentDate:     raw.AccidentDate,
		EpisodeDate:      raw.EpisodeDate,
		AccidentType:     raw.AccidentType,
		Module:           raw.Module,
		Proposer:         raw.Proposer,
		Proposee:         raw.Proposee,
	}
	if raw.InsuranceDetail != nil {
		d, err := raw.InsuranceDetail.toDomain()
		if err != nil {
			return err
		}
		p.InsuranceDetail = &d
	}
	v, err := NewClaim(p)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (p Policy) MarshalJSON() ([]byte, error) {
	claims := p.claims
	if claims == nil {
		claims = []Claim{}
	}
	return json.Marshal(policyJSON{
		InsuredValue: p.insuredValue,
		Duration:     p.duration,
		Insurer:      p.insurer,
		Insuree:      p.insuree,
		Worker: workerJSON{
			PolicyNumber: p.worker.policyNumber,
			Name:         p.worker.name,
			HealthNumber: p.worker.healthNumber,
			PolicyHolder: p.worker.policyHolder,
		},
		Claims: claims,
	})
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	var raw policyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	worker, err := NewWorkerDetail(raw.Worker.PolicyNumber, raw.Worker.Name, raw.Worker.HealthNumber, raw.Worker.PolicyHolder)
	if err != nil {
		return err
	}
	v, err := NewPolicy(PolicyParams{
		InsuredValue: raw.InsuredValue,
		Duration:     raw.Duration,
		Insurer:      raw.Insurer,
		Insuree:      raw.Insuree,
		Worker:       worker,
		Claims:       raw.Claims,
	})
	if err != nil {
		return err
	}
	*p = v
	return nil
}
