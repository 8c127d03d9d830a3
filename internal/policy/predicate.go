// Package policy decides whether an administrative bulk admission may
// proceed. Rules are boolean expressions over the admission context, e.g.
//
//	bulk.size <= 500 AND admin.submitted + bulk.size <= 5000
package policy

import (
	"context"
	"fmt"
	"strings"
)

// AdmissionContext is everything a rule can see about one bulk request.
type AdmissionContext struct {
	EventID           string
	EventType         string
	Capacity          int // -1 when unlimited
	Count             int
	AdminID           string
	AdminSubmitted    int // live registrations this admin already created for the event
	BulkSize          int
	SkipCapacityCheck bool
}

// Resolve exposes the context under the event.*, admin.* and bulk.* paths.
func (a AdmissionContext) Resolve(path []string) (any, bool) {
	if len(path) != 2 {
		return nil, false
	}
	switch path[0] {
	case "event":
		switch path[1] {
		case "id":
			return a.EventID, true
		case "type":
			return a.EventType, true
		case "capacity":
			return float64(a.Capacity), true
		case "count":
			return float64(a.Count), true
		case "remaining":
			if a.Capacity < 0 {
				return float64(-1), true
			}
			return float64(a.Capacity - a.Count), true
		}
	case "admin":
		switch path[1] {
		case "id":
			return a.AdminID, true
		case "submitted":
			return float64(a.AdminSubmitted), true
		}
	case "bulk":
		switch path[1] {
		case "size":
			return float64(a.BulkSize), true
		case "skip_capacity_check":
			return a.SkipCapacityCheck, true
		}
	}
	return nil, false
}

// Predicate approves or refuses an admission. A refusal carries a
// human-readable reason.
type Predicate interface {
	Allow(ctx context.Context, ac AdmissionContext) (bool, string, error)
}

// AllowAll approves everything.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, AdmissionContext) (bool, string, error) {
	return true, "", nil
}

// Rule is one named expression as it appears in configuration.
type Rule struct {
	Name    string `yaml:"name"`
	Expr    string `yaml:"expr"`
	Message string `yaml:"message"`
}

type compiledRule struct {
	Rule
	expr Expr
}

// ExprPredicate approves when every rule evaluates to true.
type ExprPredicate struct {
	rules []compiledRule
}

// Compile parses rules up front so configuration errors surface at load time.
func Compile(rules []Rule) (*ExprPredicate, error) {
	out := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if strings.TrimSpace(r.Expr) == "" {
			return nil, fmt.Errorf("rule[%d] %q: expr is required", i, r.Name)
		}
		ast, err := Parse(r.Expr)
		if err != nil {
			return nil, fmt.Errorf("rule[%d] %q: %w", i, r.Name, err)
		}
		out = append(out, compiledRule{Rule: r, expr: ast})
	}
	return &ExprPredicate{rules: out}, nil
}

// Allow evaluates rules in order and stops at the first refusal.
func (p *ExprPredicate) Allow(_ context.Context, ac AdmissionContext) (bool, string, error) {
	for _, r := range p.rules {
		ok, err := Evaluate(r.expr, ac)
		if err != nil {
			return false, "", fmt.Errorf("rule %q: %w", r.Name, err)
		}
		if !ok {
			msg := r.Message
			if msg == "" {
				msg = fmt.Sprintf("admission rule %q not satisfied", r.Name)
			}
			return false, msg, nil
		}
	}
	return true, "", nil
}

// Len returns the number of compiled rules.
func (p *ExprPredicate) Len() int { return len(p.rules) }
