// Package requests decodes the inbound JSON documents that start a flow. Each
// document is checked against an embedded JSON Schema before it is decoded.
package requests

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
	"github.com/CatarinaFranco94/workers-insurance/pkg/workflow"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// ErrInvalidRequest is matched by every schema or decoding failure.
var ErrInvalidRequest = errors.New("invalid request")

const schemaBase = "https://workinsurance.schemas.local/requests/"

var (
	compileOnce sync.Once
	compiled    map[string]*jsonschema.Schema
	compileErr  error
)

func schemas() (map[string]*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		names := []string{"issue", "claim", "decision"}
		for _, name := range names {
			data, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
			if err != nil {
				compileErr = err
				return
			}
			if err := c.AddResource(schemaBase+name+".schema.json", bytes.NewReader(data)); err != nil {
				compileErr = fmt.Errorf("request schema load failed: %w", err)
				return
			}
		}
		compiled = make(map[string]*jsonschema.Schema, len(names))
		for _, name := range names {
			s, err := c.Compile(schemaBase + name + ".schema.json")
			if err != nil {
				compileErr = fmt.Errorf("request schema compile failed: %w", err)
				return
			}
			compiled[name] = s
		}
	})
	return compiled, compileErr
}

// decode validates data against the named schema and unmarshals it into dst.
func decode(name string, data []byte, dst any) error {
	all, err := schemas()
	if err != nil {
		return err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after document", ErrInvalidRequest)
	}
	if err := all[name].Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// WorkerInfo describes the insured worker.
type WorkerInfo struct {
	PolicyNumber string `json:"policy_number"`
	Name         string `json:"name"`
	HealthNumber string `json:"health_number,omitempty"`
	PolicyHolder string `json:"policy_holder,omitempty"`
}

// IssueRequest asks an insurer to issue a policy to an insuree.
type IssueRequest struct {
	Insuree      string     `json:"insuree"`
	InsuredValue uint64     `json:"insured_value"`
	Duration     uint32     `json:"duration"`
	Worker       WorkerInfo `json:"worker"`
}

func DecodeIssue(data []byte) (*IssueRequest, error) {
	var r IssueRequest
	if err := decode("issue", data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ToInput converts r into the input of the issue flow.
func (r IssueRequest) ToInput() (workflow.IssueInput, error) {
	insuree, err := insurance.NewIdentity(r.Insuree)
	if err != nil {
		return workflow.IssueInput{}, err
	}
	worker, err := insurance.NewWorkerDetail(r.Worker.PolicyNumber, r.Worker.Name, r.Worker.HealthNumber, r.Worker.PolicyHolder)
	if err != nil {
		return workflow.IssueInput{}, err
	}
	return workflow.IssueInput{
		Insuree:      insuree,
		InsuredValue: r.InsuredValue,
		Duration:     r.Duration,
		Worker:       worker,
	}, nil
}

// ClaimRequest proposes a claim against a policy.
type ClaimRequest struct {
	ClaimNumber      string `json:"claim_number"`
	Description      string `json:"description,omitempty"`
	Amount           int64  `json:"amount"`
	InternalPolicyNo string `json:"internal_policy_no,omitempty"`
	AccidentDate     string `json:"accident_date,omitempty"`
	EpisodeDate      string `json:"episode_date,omitempty"`
	AccidentType     string `json:"accident_type,omitempty"`
	Module           string `json:"module,omitempty"`
}

func DecodeClaim(data []byte) (*ClaimRequest, error) {
	var r ClaimRequest
	if err := decode("claim", data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ToInput converts r into the input of the claim flow.
func (r ClaimRequest) ToInput() (workflow.ClaimInput, error) {
	accident, err := parseDate(r.AccidentDate)
	if err != nil {
		return workflow.ClaimInput{}, fmt.Errorf("%w: accident_date: %v", ErrInvalidRequest, err)
	}
	episode, err := parseDate(r.EpisodeDate)
	if err != nil {
		return workflow.ClaimInput{}, fmt.Errorf("%w: episode_date: %v", ErrInvalidRequest, err)
	}
	return workflow.ClaimInput{
		ClaimNumber:      r.ClaimNumber,
		Description:      r.Description,
		Amount:           r.Amount,
		InternalPolicyNo: r.InternalPolicyNo,
		AccidentDate:     accident,
		EpisodeDate:      episode,
		AccidentType:     insurance.AccidentType(r.AccidentType),
		Module:           insurance.Module(r.Module),
	}, nil
}

// Dates are accepted as calendar dates or RFC 3339 timestamps.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// DetailInfo is the insurance detail attached on acceptance.
type DetailInfo struct {
	InsuranceCompanyNumber       string `json:"insurance_company_number"`
	InsuranceCompanyPolicyNumber string `json:"insurance_company_policy_number"`
	Field                        string `json:"field,omitempty"`
}

const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

// DecisionRequest accepts or rejects the open proposal of a claim.
type DecisionRequest struct {
	Decision        string      `json:"decision"`
	ClaimNumber     string      `json:"claim_number"`
	InsuranceDetail *DetailInfo `json:"insurance_detail,omitempty"`
}

func DecodeDecision(data []byte) (*DecisionRequest, error) {
	var r DecisionRequest
	if err := decode("decision", data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r DecisionRequest) Accept() bool { return r.Decision == DecisionAccept }

// ToDetail converts the attached insurance detail.
func (r DecisionRequest) ToDetail() (insurance.InsuranceDetail, error) {
	if r.InsuranceDetail == nil {
		return insurance.InsuranceDetail{}, fmt.Errorf("%w: insurance_detail is required", ErrInvalidRequest)
	}
	d := r.InsuranceDetail
	return insurance.NewInsuranceDetail(d.InsuranceCompanyNumber, d.InsuranceCompanyPolicyNumber, d.Field)
}
