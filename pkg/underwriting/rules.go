// Package underwriting evaluates deterministic business guard rails before a
// transaction is sent to the counterparty.
//
// Rules are CEL boolean expressions over two variables, policy and claim, loaded
// from a YAML profile. Expressions that could evaluate differently on two nodes
// (floating point, clock reads, map iteration) are refused at load time.
package underwriting

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/CatarinaFranco94/workers-insurance/pkg/contract"
	"github.com/CatarinaFranco94/workers-insurance/pkg/insurance"
)

//go:embed default_profile.yaml
var defaultProfile []byte

// ErrDenied is matched by every *Denial.
var ErrDenied = errors.New("underwriting: denied")

// Denial names the rule that refused a transaction.
type Denial struct {
	RuleID  string
	Message string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("underwriting rule %s: %s", d.RuleID, d.Message)
}

func (d *Denial) Unwrap() error { return ErrDenied }

// RuleSpec is one rule as written in a profile.
type RuleSpec struct {
	ID      string   `yaml:"id" json:"id"`
	Expr    string   `yaml:"expr" json:"expr"`
	Message string   `yaml:"message" json:"message"`
	Intents []string `yaml:"intents" json:"intents"`
}

// Profile is a named list of rules.
type Profile struct {
	Name  string     `yaml:"name" json:"name"`
	Rules []RuleSpec `yaml:"rules" json:"rules"`
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &p, nil
}

// DefaultProfile returns the built-in rule profile.
func DefaultProfile() *Profile {
	p, err := ParseProfile(defaultProfile)
	if err != nil {
		panic(err)
	}
	return p
}

type rule struct {
	spec    RuleSpec
	prg     cel.Program
	intents map[contract.Intent]bool
}

// Rules is a compiled profile. It is safe for concurrent use.
type Rules struct {
	name  string
	rules []rule
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("policy", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("claim", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Compile checks and compiles every rule of p.
func Compile(p *Profile) (*Rules, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	out := &Rules{name: p.Name}
	seen := make(map[string]bool, len(p.Rules))
	for _, spec := range p.Rules {
		if spec.ID == "" {
			return nil, errors.New("underwriting: rule without id")
		}
		if seen[spec.ID] {
			return nil, fmt.Errorf("underwriting: duplicate rule id %q", spec.ID)
		}
		seen[spec.ID] = true

		r, err := compileRule(env, spec)
		if err != nil {
			return nil, fmt.Errorf("underwriting: rule %s: %w", spec.ID, err)
		}
		out.rules = append(out.rules, r)
	}
	return out, nil
}

func compileRule(env *cel.Env, spec RuleSpec) (rule, error) {
	parsed, issues := env.Parse(spec.Expr)
	if issues != nil && issues.Err() != nil {
		return rule{}, issues.Err()
	}
	if found := checkDeterminism(parsed); len(found) > 0 {
		msgs := make([]string, 0, len(found))
		for _, iss := range found {
			msgs = append(msgs, iss.Message)
		}
		return rule{}, fmt.Errorf("non-deterministic expression: %s", strings.Join(msgs, "; "))
	}

	checked, issues := env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return rule{}, issues.Err()
	}
	if t := checked.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return rule{}, fmt.Errorf("expression must be boolean, got %s", t)
	}
	prg, err := env.Program(checked)
	if err != nil {
		return rule{}, err
	}

	r := rule{spec: spec, prg: prg, intents: make(map[contract.Intent]bool, len(spec.Intents))}
	for _, name := range spec.Intents {
		intent, err := contract.ParseIntent(name)
		if err != nil {
			return rule{}, err
		}
		r.intents[intent] = true
	}
	return r, nil
}

// Load reads and compiles the profile at path.
func Load(path string) (*Rules, error) {
	p, err := LoadProfile(path)
	if err != nil {
		return nil, err
	}
	return Compile(p)
}

// Default compiles the built-in profile.
func Default() *Rules {
	r, err := Compile(DefaultProfile())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rules) Name() string { return r.name }

// Len returns the number of compiled rules.
func (r *Rules) Len() int { return len(r.rules) }

// Check evaluates every rule bound to intent. claim is the record the transaction
// appends and is nil for an issue. It returns a *Denial for the first rule that
// does not hold.
func (r *Rules) Check(intent contract.Intent, policy insurance.Policy, claim *insurance.Claim) error {
	vars := map[string]any{
		"policy": PolicyVars(policy),
		"claim":  ClaimVars(claim),
	}
	for _, rl := range r.rules {
		if len(rl.intents) > 0 && !rl.intents[intent] {
			continue
		}
		val, _, err := rl.prg.Eval(vars)
		if err != nil {
			return &Denial{RuleID: rl.spec.ID, Message: "evaluation failed: " + err.Error()}
		}
		ok, isBool := val.Value().(bool)
		if !isBool {
			return &Denial{RuleID: rl.spec.ID, Message: fmt.Sprintf("expression returned %T, not bool", val.Value())}
		}
		if !ok {
			msg := rl.spec.Message
			if msg == "" {
				msg = rl.spec.Expr
			}
			return &Denial{RuleID: rl.spec.ID, Message: msg}
		}
	}
	return nil
}

// PolicyVars is the policy variable visible to rule expressions.
func PolicyVars(p insurance.Policy) map[string]any {
	var acceptedTotal int64
	for _, c := range p.Claims() {
		if c.Status() == insurance.ClaimStatusAccepted {
			acceptedTotal += c.Amount()
		}
	}
	w := p.Worker()
	return map[string]any{
		"policy_number":  w.PolicyNumber(),
		"worker_name":    w.Name(),
		"policy_holder":  w.PolicyHolder(),
		"insured_value":  int64(p.InsuredValue()),
		"duration":       int64(p.Duration()),
		"insurer":        p.Insurer().Key(),
		"insuree":        p.Insuree().Key(),
		"claim_count":    int64(p.ClaimCount()),
		"accepted_total": acceptedTotal,
	}
}

// ClaimVars is the claim variable visible to rule expressions. Dates are Unix
// seconds, zero when unset.
func ClaimVars(c *insurance.Claim) map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return map[string]any{
		"number":        c.ClaimNumber(),
		"description":   c.Description(),
		"amount":        c.Amount(),
		"status":        string(c.Status()),
		"accident_type": string(c.AccidentType()),
		"module":        string(c.Module()),
		"accident_date": unix(c.AccidentDate()),
		"episode_date":  unix(c.EpisodeDate()),
		"has_detail":    c.HasInsuranceDetail(),
	}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
