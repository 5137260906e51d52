package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"

	"github.com/jbweber/vmtools/internal/fault"
	"github.com/jbweber/vmtools/internal/invoke"
)

// Rule maps a stderr substring to a semantic error. Matching is
// case-insensitive. Constraints, when set, limit the rule to tool versions
// that satisfy them.
type Rule struct {
	Match       string
	Kind        error
	Constraints version.Constraints
}

var kindNames = map[string]error{
	"not_found":       fault.ErrNotFound,
	"already_exists":  fault.ErrAlreadyExists,
	"already_running": fault.ErrAlreadyRunning,
	"not_running":     fault.ErrNotRunning,
	"in_use":          fault.ErrInUse,
	"invalid_state":   fault.ErrInvalidState,
}

// KindNames lists the names accepted by NewRule.
func KindNames() []string {
	return []string{"not_found", "already_exists", "already_running", "not_running", "in_use", "invalid_state"}
}

// NewRule builds a rule from configuration strings. constraints may be empty.
func NewRule(match, kind, constraints string) (Rule, error) {
	if strings.TrimSpace(match) == "" {
		return Rule{}, errors.New("error pattern match is empty")
	}
	k, ok := kindNames[kind]
	if !ok {
		return Rule{}, fmt.Errorf("unknown error kind %q (want one of %s)", kind, strings.Join(KindNames(), ", "))
	}
	r := Rule{Match: match, Kind: k}
	if constraints != "" {
		c, err := version.NewConstraint(constraints)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid version constraint %q: %w", constraints, err)
		}
		r.Constraints = c
	}
	return r, nil
}

// DefaultRules covers the libvirt messages vmtools relies on. More specific
// phrases come before the generic "not found".
func DefaultRules() []Rule {
	return []Rule{
		{Match: "already exists", Kind: fault.ErrAlreadyExists},
		{Match: "already active", Kind: fault.ErrAlreadyRunning},
		{Match: "is already running", Kind: fault.ErrAlreadyRunning},
		{Match: "domain is not running", Kind: fault.ErrNotRunning},
		{Match: "not running", Kind: fault.ErrNotRunning},
		{Match: "in use", Kind: fault.ErrInUse},
		{Match: "failed to get domain", Kind: fault.ErrNotFound},
		{Match: "domain not found", Kind: fault.ErrNotFound},
		{Match: "failed to get network", Kind: fault.ErrNotFound},
		{Match: "network not found", Kind: fault.ErrNotFound},
		{Match: "not found", Kind: fault.ErrNotFound},
	}
}

// Classifier maps failed invocations to semantic errors by stderr content.
type Classifier struct {
	rules   []Rule
	version *version.Version
}

// NewClassifier checks custom rules first, then the defaults.
func NewClassifier(custom ...Rule) *Classifier {
	rules := make([]Rule, 0, len(custom)+len(DefaultRules()))
	rules = append(rules, custom...)
	rules = append(rules, DefaultRules()...)
	return &Classifier{rules: rules}
}

// WithVersion returns a copy that evaluates version constraints against v.
// Without a version, constrained rules never match.
func (c *Classifier) WithVersion(v *version.Version) *Classifier {
	cp := *c
	cp.version = v
	return &cp
}

// Classify wraps a non-zero exit whose stderr matches a rule as
// "<kind>: <invocation error>", so both errors.Is(err, kind) and the
// invocation boundary hold. Other errors are returned unchanged.
func (c *Classifier) Classify(err error) error {
	if c == nil || err == nil {
		return err
	}
	var ierr *invoke.InvocationError
	if !errors.As(err, &ierr) || ierr.Kind != invoke.KindNonZeroExit {
		return err
	}
	stderr := strings.ToLower(ierr.Stderr)
	for _, r := range c.rules {
		if r.Constraints != nil && (c.version == nil || !r.Constraints.Check(c.version)) {
			continue
		}
		if strings.Contains(stderr, strings.ToLower(r.Match)) {
			return fmt.Errorf("%w: %w", r.Kind, err)
		}
	}
	return err
}
