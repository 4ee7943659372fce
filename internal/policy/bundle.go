package policy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/mandate/internal/model"
)

// Bundle is a YAML document describing delegations and their policies for import.
type Bundle struct {
	Delegations []BundleDelegation `yaml:"delegations"`
}

// BundleDelegation is one delegation entry of a bundle.
type BundleDelegation struct {
	Grantor         string         `yaml:"grantor"`
	Delegate        string         `yaml:"delegate"`
	Bureau          string         `yaml:"bureau"`
	StartsAt        string         `yaml:"starts_at"`
	EndsAt          string         `yaml:"ends_at"`
	MaxAmountPerUse int64          `yaml:"max_amount_per_use"`
	MaxTotalAmount  int64          `yaml:"max_total_amount"`
	Currency        string         `yaml:"currency"`
	Policies        []BundlePolicy `yaml:"policies"`
}

// BundlePolicy is one policy entry of a bundle delegation.
type BundlePolicy struct {
	Action    string         `yaml:"action"`
	MaxAmount int64          `yaml:"max_amount"`
	Currency  string         `yaml:"currency"`
	Scope     model.Scope    `yaml:"scope"`
	Controls  model.Controls `yaml:"controls"`
}

// LoadBundle reads and validates a bundle file. Unlike configuration, a missing bundle
// is an error.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	return ParseBundle(data)
}

// ParseBundle decodes and validates bundle YAML.
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate reports every problem in the bundle at once.
func (b *Bundle) Validate() error {
	var errs []error
	if len(b.Delegations) == 0 {
		errs = append(errs, errors.New("bundle has no delegations"))
	}
	for i, d := range b.Delegations {
		prefix := fmt.Sprintf("delegations[%d]", i)
		if strings.TrimSpace(d.Grantor) == "" {
			errs = append(errs, fmt.Errorf("%s: grantor is required", prefix))
		}
		if strings.TrimSpace(d.Delegate) == "" {
			errs = append(errs, fmt.Errorf("%s: delegate is required", prefix))
		}
		if strings.TrimSpace(d.Bureau) == "" {
			errs = append(errs, fmt.Errorf("%s: bureau is required", prefix))
		}
		starts, err1 := parseBundleTime(d.StartsAt)
		if err1 != nil {
			errs = append(errs, fmt.Errorf("%s: starts_at: %w", prefix, err1))
		}
		ends, err2 := parseBundleTime(d.EndsAt)
		if err2 != nil {
			errs = append(errs, fmt.Errorf("%s: ends_at: %w", prefix, err2))
		}
		if err1 == nil && err2 == nil && ends.Before(starts) {
			errs = append(errs, fmt.Errorf("%s: ends_at is before starts_at", prefix))
		}
		if d.MaxAmountPerUse < 0 || d.MaxTotalAmount < 0 {
			errs = append(errs, fmt.Errorf("%s: ceilings must not be negative", prefix))
		}
		if (d.MaxAmountPerUse > 0 || d.MaxTotalAmount > 0) && strings.TrimSpace(d.Currency) == "" {
			errs = append(errs, fmt.Errorf("%s: currency is required with a ceiling", prefix))
		}
		for j, p := range d.Policies {
			pp := fmt.Sprintf("%s.policies[%d]", prefix, j)
			if strings.TrimSpace(p.Action) == "" {
				errs = append(errs, fmt.Errorf("%s: action is required", pp))
			}
			if p.MaxAmount < 0 {
				errs = append(errs, fmt.Errorf("%s: max_amount must not be negative", pp))
			}
		}
	}
	return errors.Join(errs...)
}

// Delegation returns the founding attributes of the entry. Identity, hashes and status
// are assigned when it is created.
func (d BundleDelegation) Delegation() (model.Delegation, error) {
	starts, err := parseBundleTime(d.StartsAt)
	if err != nil {
		return model.Delegation{}, err
	}
	ends, err := parseBundleTime(d.EndsAt)
	if err != nil {
		return model.Delegation{}, err
	}
	return model.Delegation{
		GrantorID:       d.Grantor,
		DelegateID:      d.Delegate,
		Bureau:          d.Bureau,
		StartsAt:        starts,
		EndsAt:          ends,
		MaxAmountPerUse: d.MaxAmountPerUse,
		MaxTotalAmount:  d.MaxTotalAmount,
		Currency:        strings.ToUpper(strings.TrimSpace(d.Currency)),
	}, nil
}

// Policy returns the rule set of the entry, not yet attached to a delegation.
func (p BundlePolicy) Policy() model.Policy {
	return model.Policy{
		Action:    model.ActionKind(strings.TrimSpace(p.Action)),
		MaxAmount: p.MaxAmount,
		Currency:  strings.ToUpper(strings.TrimSpace(p.Currency)),
		Scope:     p.Scope,
		Controls:  p.Controls,
	}
}

func parseBundleTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, errors.New("timestamp is required")
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 timestamp: %w", err)
	}
	return t.UTC(), nil
}

// DefaultBundleYAML returns a commented bundle template for init.
func DefaultBundleYAML() string {
	return `# mandate delegation bundle
# Generated by: mandate init
#
# Import with: mandate import <file>
#
# Evaluation order for every request (cannot be changed):
#   1. Delegation status and validity window
#   2. Policy selection for the action kind (most specific allow match wins,
#      then earliest created)
#   3. Scope deny-lists, then allow-lists
#   4. Per-use ceiling (stricter of policy max_amount and max_amount_per_use)
#   5. Aggregate ceiling (max_total_amount)
#   6. Controls -> PENDING_CONTROL
#   7. AUTHORIZED
#
# Amounts are integers in the currency's minor unit. Zero means no ceiling.
# Empty allow/deny lists mean no restriction on that dimension.

delegations:
  - grantor: dg-finance
    delegate: daf-adjoint
    bureau: BF-OUAGA
    starts_at: "2025-01-01T00:00:00Z"
    ends_at: "2025-12-31T23:59:59Z"
    max_amount_per_use: 10000000
    max_total_amount: 100000000
    currency: XOF
    policies:
      - action: pay
        max_amount: 10000000
        currency: XOF
        scope:
          project:
            allow: []
            deny: []
          bureau:
            allow: [BF-OUAGA]
            deny: []
          supplier:
            allow: []
            deny: [blacklisted-supplier]
          category:
            allow: []
            deny: []
        controls:
          requires_dual_control: false
          requires_legal_review: false
          requires_finance_check: false
          step_up_auth: false
      - action: sign
        scope:
          bureau:
            allow: [BF-OUAGA]
        controls:
          requires_legal_review: true
`
}
