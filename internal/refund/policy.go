// Package refund computes refund entitlements from event timing. Everything
// here is pure: callers persist the decision and talk to the payment gateway.
package refund

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
)

const day = 24 * time.Hour

// Reasons attached to a Decision.
const (
	ReasonTier          = "TIER_MATCHED"
	ReasonNoTier        = "NO_MATCHING_TIER"
	ReasonEventStarted  = "EVENT_STARTED"
	ReasonNothingPaid   = "NOTHING_PAID"
	ReasonAdminOverride = "ADMIN_OVERRIDE"
)

// DefaultTiers are the venue defaults: more than 7 days out refunds in full,
// 3 to 7 days refunds half, under 3 days refunds nothing.
var DefaultTiers = []model.RefundTier{
	{DaysBefore: 8, Percent: 100},
	{DaysBefore: 3, Percent: 50},
	{DaysBefore: 0, Percent: 0},
}

// Decision is the refund entitlement for one cancellation.
type Decision struct {
	Eligible       bool   `json:"eligible"`
	Percent        int    `json:"percent"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
	DaysUntilEvent int    `json:"days_until_event"`
}

// Policy is an ordered tier table.
type Policy struct {
	tiers []model.RefundTier // sorted by DaysBefore descending
}

// New validates tiers and returns a Policy. An empty table yields the defaults.
func New(tiers []model.RefundTier) (*Policy, error) {
	if len(tiers) == 0 {
		tiers = DefaultTiers
	}
	if err := Validate(tiers); err != nil {
		return nil, err
	}
	sorted := make([]model.RefundTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DaysBefore > sorted[j].DaysBefore })
	return &Policy{tiers: sorted}, nil
}

// Default returns the policy built from DefaultTiers.
func Default() *Policy {
	p, err := New(DefaultTiers)
	if err != nil {
		panic(fmt.Sprintf("refund: default tiers invalid: %v", err))
	}
	return p
}

// Validate checks percent ∈ [0,100], days_before ≥ 0 and unique thresholds.
func Validate(tiers []model.RefundTier) error {
	var errs []string
	seen := make(map[int]bool, len(tiers))
	for i, t := range tiers {
		if t.Percent < 0 || t.Percent > 100 {
			errs = append(errs, fmt.Sprintf("tiers[%d]: percent %d outside [0,100]", i, t.Percent))
		}
		if t.DaysBefore < 0 {
			errs = append(errs, fmt.Sprintf("tiers[%d]: days_before %d is negative", i, t.DaysBefore))
		}
		if seen[t.DaysBefore] {
			errs = append(errs, fmt.Sprintf("tiers[%d]: duplicate days_before %d", i, t.DaysBefore))
		}
		seen[t.DaysBefore] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("refund tiers invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Tiers returns a copy of the table, most generous threshold first.
func (p *Policy) Tiers() []model.RefundTier {
	out := make([]model.RefundTier, len(p.tiers))
	copy(out, p.tiers)
	return out
}

// DaysUntil returns ceil((start - now) / 1 day).
func DaysUntil(start, now time.Time) int {
	d := start.Sub(now)
	days := d / day
	if d%day > 0 {
		days++
	}
	return int(days)
}

// Compute returns the refund for a paid amount cancelled at now.
func (p *Policy) Compute(amount int64, eventStart, now time.Time) Decision {
	days := DaysUntil(eventStart, now)
	dec := Decision{DaysUntilEvent: days}
	switch {
	case amount <= 0:
		dec.Reason = ReasonNothingPaid
		return dec
	case !now.Before(eventStart):
		dec.Reason = ReasonEventStarted
		return dec
	}
	for _, t := range p.tiers {
		if days >= t.DaysBefore {
			dec.Percent = t.Percent
			dec.Amount = amount * int64(t.Percent) / 100
			dec.Eligible = dec.Amount > 0
			dec.Reason = ReasonTier
			return dec
		}
	}
	dec.Reason = ReasonNoTier
	return dec
}

// Override forces a refund amount, bypassing the tier table. The forced
// amount is clamped to [0, amount].
func Override(amount, forced int64) Decision {
	if forced < 0 {
		forced = 0
	}
	if forced > amount {
		forced = amount
	}
	pct := 0
	if amount > 0 {
		pct = int(forced * 100 / amount)
	}
	return Decision{
		Eligible: forced > 0,
		Percent:  pct,
		Amount:   forced,
		Reason:   ReasonAdminOverride,
	}
}
