/*
Package factory converts serialized policy definitions into engine types.

PURPOSE:
  Policy versions arrive from two places: the admin API (JSON bodies) and
  seed files loaded at startup (YAML). Both map onto the same PolicyJSON
  schema, which the factory validates and converts into
  engine.PolicyVersion values. HR can define rule sets without code
  changes.

JSON SCHEMA:
  {
    "id": "gratuity-2024",
    "kind": "gratuity_tier_set",
    "effective_from": "2024-01-01",
    "effective_to": null,
    "gratuity": {
      "min_years_eligible": 1,
      "tax_exemption_threshold": "300000",
      "tiers": [
        {"min_years": 1, "max_years": 5, "days_per_year": "21"},
        {"min_years": 5, "days_per_year": "30"}
      ]
    }
  }

  Monetary fields are strings so they survive JSON/YAML round-trips
  without binary floating point.

SEED FILES:
  LoadSeedFile reads a YAML document with a top-level `policies:` list of
  the same objects. The server loads it at startup via -policies.

SEE ALSO:
  - ../engine/policy.go: Target types and their validation
  - ../cmd/server: Seed loading at startup
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/entitlement-engine/engine"
)

// =============================================================================
// SCHEMA TYPES - Shared by JSON bodies and YAML seed files
// =============================================================================

// PolicyJSON is the serialized form of a policy version.
type PolicyJSON struct {
	ID            string            `json:"id,omitempty" yaml:"id,omitempty"`
	Kind          string            `json:"kind" yaml:"kind"`
	Jurisdiction  string            `json:"jurisdiction,omitempty" yaml:"jurisdiction,omitempty"`
	EffectiveFrom string            `json:"effective_from" yaml:"effective_from"`
	EffectiveTo   *string           `json:"effective_to,omitempty" yaml:"effective_to,omitempty"`
	Gratuity      *GratuityJSON     `json:"gratuity,omitempty" yaml:"gratuity,omitempty"`
	Tax           *TaxJSON          `json:"tax,omitempty" yaml:"tax,omitempty"`
	CarryForward  *CarryForwardJSON `json:"carry_forward,omitempty" yaml:"carry_forward,omitempty"`
}

type GratuityJSON struct {
	MinYearsEligible      int        `json:"min_years_eligible" yaml:"min_years_eligible"`
	TaxExemptionThreshold string     `json:"tax_exemption_threshold" yaml:"tax_exemption_threshold"`
	Tiers                 []TierJSON `json:"tiers" yaml:"tiers"`
}

type TierJSON struct {
	MinYears    int    `json:"min_years" yaml:"min_years"`
	MaxYears    *int   `json:"max_years,omitempty" yaml:"max_years,omitempty"`
	DaysPerYear string `json:"days_per_year" yaml:"days_per_year"`
}

type TaxJSON struct {
	Mode     string        `json:"mode" yaml:"mode"`
	Brackets []BracketJSON `json:"brackets" yaml:"brackets"`
}

type BracketJSON struct {
	LowerBound string  `json:"lower_bound" yaml:"lower_bound"`
	UpperBound *string `json:"upper_bound,omitempty" yaml:"upper_bound,omitempty"`
	Rate       string  `json:"rate" yaml:"rate"`
}

type CarryForwardJSON struct {
	Rules []CarryRuleJSON `json:"rules" yaml:"rules"`
}

type CarryRuleJSON struct {
	LeaveTypeCode string  `json:"leave_type_code" yaml:"leave_type_code"`
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	MaxCarryDays  string  `json:"max_carry_days" yaml:"max_carry_days"`
	Expiry        string  `json:"expiry" yaml:"expiry"` // end_of_quarter, end_of_year, never, custom_date
	ExpiryQuarter int     `json:"expiry_quarter,omitempty" yaml:"expiry_quarter,omitempty"`
	ExpiryDate    *string `json:"expiry_date,omitempty" yaml:"expiry_date,omitempty"`
}

// seedFile is the top-level YAML seed document.
type seedFile struct {
	Policies []PolicyJSON `yaml:"policies"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParseVersion parses a JSON string into a validated PolicyVersion.
func (f *PolicyFactory) ParseVersion(jsonStr string) (engine.PolicyVersion, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return engine.PolicyVersion{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts PolicyJSON into a validated PolicyVersion. A missing
// ID gets a generated one.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (engine.PolicyVersion, error) {
	id := pj.ID
	if id == "" {
		id = uuid.NewString()
	}

	from, err := engine.ParseDate(pj.EffectiveFrom)
	if err != nil {
		return engine.PolicyVersion{}, fmt.Errorf("invalid effective_from %q: %w", pj.EffectiveFrom, err)
	}

	v := engine.PolicyVersion{
		ID:            engine.PolicyVersionID(id),
		Kind:          engine.PolicyKind(pj.Kind),
		Jurisdiction:  engine.Jurisdiction(pj.Jurisdiction),
		EffectiveFrom: from,
	}
	if pj.EffectiveTo != nil {
		to, err := engine.ParseDate(*pj.EffectiveTo)
		if err != nil {
			return engine.PolicyVersion{}, fmt.Errorf("invalid effective_to %q: %w", *pj.EffectiveTo, err)
		}
		v.EffectiveTo = &to
	}

	if pj.Gratuity != nil {
		g, err := gratuityFromJSON(*pj.Gratuity)
		if err != nil {
			return engine.PolicyVersion{}, err
		}
		v.Gratuity = g
	}
	if pj.Tax != nil {
		t, err := taxFromJSON(*pj.Tax)
		if err != nil {
			return engine.PolicyVersion{}, err
		}
		v.Tax = t
	}
	if pj.CarryForward != nil {
		c, err := carryForwardFromJSON(*pj.CarryForward)
		if err != nil {
			return engine.PolicyVersion{}, err
		}
		v.CarryForward = c
	}

	if err := v.Validate(); err != nil {
		return engine.PolicyVersion{}, err
	}
	return v, nil
}

// LoadSeedFile reads a YAML seed document and converts every entry.
func (f *PolicyFactory) LoadSeedFile(path string) ([]engine.PolicyVersion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed YAML: %w", err)
	}

	versions := make([]engine.PolicyVersion, 0, len(seed.Policies))
	for i, pj := range seed.Policies {
		v, err := f.FromJSON(pj)
		if err != nil {
			return nil, fmt.Errorf("seed policy %d: %w", i, err)
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// =============================================================================
// PAYLOAD CONVERSION
// =============================================================================

func gratuityFromJSON(gj GratuityJSON) (*engine.GratuityTierSet, error) {
	threshold, err := parseDecimal("tax_exemption_threshold", gj.TaxExemptionThreshold)
	if err != nil {
		return nil, err
	}

	set := &engine.GratuityTierSet{
		MinYearsEligible:      gj.MinYearsEligible,
		TaxExemptionThreshold: threshold,
	}
	for i, tj := range gj.Tiers {
		rate, err := parseDecimal(fmt.Sprintf("tiers[%d].days_per_year", i), tj.DaysPerYear)
		if err != nil {
			return nil, err
		}
		set.Tiers = append(set.Tiers, engine.GratuityTier{
			MinYears:    tj.MinYears,
			MaxYears:    tj.MaxYears,
			DaysPerYear: rate,
		})
	}
	return set, nil
}

func taxFromJSON(tj TaxJSON) (*engine.TaxBracketSet, error) {
	set := &engine.TaxBracketSet{Mode: engine.TaxMode(tj.Mode)}
	for i, bj := range tj.Brackets {
		lower, err := parseDecimal(fmt.Sprintf("brackets[%d].lower_bound", i), bj.LowerBound)
		if err != nil {
			return nil, err
		}
		rate, err := parseDecimal(fmt.Sprintf("brackets[%d].rate", i), bj.Rate)
		if err != nil {
			return nil, err
		}
		b := engine.TaxBracket{LowerBound: lower, Rate: rate}
		if bj.UpperBound != nil {
			upper, err := parseDecimal(fmt.Sprintf("brackets[%d].upper_bound", i), *bj.UpperBound)
			if err != nil {
				return nil, err
			}
			b.UpperBound = &upper
		}
		set.Brackets = append(set.Brackets, b)
	}
	return set, nil
}

func carryForwardFromJSON(cj CarryForwardJSON) (*engine.CarryForwardRuleSet, error) {
	set := &engine.CarryForwardRuleSet{}
	for i, rj := range cj.Rules {
		maxCarry, err := parseDecimal(fmt.Sprintf("rules[%d].max_carry_days", i), rj.MaxCarryDays)
		if err != nil {
			return nil, err
		}
		rule := engine.CarryForwardRule{
			LeaveTypeCode: engine.LeaveTypeCode(rj.LeaveTypeCode),
			Enabled:       rj.Enabled,
			MaxCarryDays:  maxCarry,
			Expiry: engine.ExpiryPolicy{
				Kind:    engine.ExpiryKind(rj.Expiry),
				Quarter: rj.ExpiryQuarter,
			},
		}
		if rj.ExpiryDate != nil {
			d, err := engine.ParseDate(*rj.ExpiryDate)
			if err != nil {
				return nil, fmt.Errorf("rules[%d].expiry_date %q: %w", i, *rj.ExpiryDate, err)
			}
			rule.Expiry.Date = &d
		}
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal in %s: %q", field, s)
	}
	return d, nil
}

// =============================================================================
// SERIALIZATION - PolicyVersion back to the wire form
// =============================================================================

// ToJSON converts a PolicyVersion back into its serialized form, for API
// listings and database storage.
func ToJSON(v engine.PolicyVersion) PolicyJSON {
	pj := PolicyJSON{
		ID:            string(v.ID),
		Kind:          string(v.Kind),
		Jurisdiction:  string(v.Jurisdiction),
		EffectiveFrom: v.EffectiveFrom.String(),
	}
	if v.EffectiveTo != nil {
		s := v.EffectiveTo.String()
		pj.EffectiveTo = &s
	}
	if v.Gratuity != nil {
		gj := &GratuityJSON{
			MinYearsEligible:      v.Gratuity.MinYearsEligible,
			TaxExemptionThreshold: v.Gratuity.TaxExemptionThreshold.String(),
		}
		for _, t := range v.Gratuity.Tiers {
			gj.Tiers = append(gj.Tiers, TierJSON{
				MinYears:    t.MinYears,
				MaxYears:    t.MaxYears,
				DaysPerYear: t.DaysPerYear.String(),
			})
		}
		pj.Gratuity = gj
	}
	if v.Tax != nil {
		tj := &TaxJSON{Mode: string(v.Tax.Mode)}
		for _, b := range v.Tax.Brackets {
			bj := BracketJSON{LowerBound: b.LowerBound.String(), Rate: b.Rate.String()}
			if b.UpperBound != nil {
				s := b.UpperBound.String()
				bj.UpperBound = &s
			}
			tj.Brackets = append(tj.Brackets, bj)
		}
		pj.Tax = tj
	}
	if v.CarryForward != nil {
		cj := &CarryForwardJSON{}
		for _, r := range v.CarryForward.Rules {
			rj := CarryRuleJSON{
				LeaveTypeCode: string(r.LeaveTypeCode),
				Enabled:       r.Enabled,
				MaxCarryDays:  r.MaxCarryDays.String(),
				Expiry:        string(r.Expiry.Kind),
				ExpiryQuarter: r.Expiry.Quarter,
			}
			if r.Expiry.Date != nil {
				s := r.Expiry.Date.String()
				rj.ExpiryDate = &s
			}
			cj.Rules = append(cj.Rules, rj)
		}
		pj.CarryForward = cj
	}
	return pj
}
