// Package split computes the percentage-based partition of a charge across
// its fixed recipients and validates the result before any gateway-side
// split configuration is submitted.
package split

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ServiceType is the revenue category a charge belongs to.
type ServiceType string

const (
	ServiceMembership  ServiceType = "membership"
	ServiceServices    ServiceType = "services"
	ServiceAdvertising ServiceType = "advertising"
	ServiceEvents      ServiceType = "events"
	ServiceOther       ServiceType = "other"
)

// Recipient identifiers. PlatformRecipient is the account that receives
// whatever the gateway does not split away, so it never needs an explicit
// gateway split entry.
const (
	PlatformRecipient  = "comademig"
	PartnerRecipient   = "renum"
	AffiliateRecipient = "affiliate"
)

// Tolerance is the accepted rounding drift, in currency units, when
// validating that split amounts and percentages add up.
const Tolerance = 0.01

// Entry is one computed share of a charge.
type Entry struct {
	Recipient         string  `json:"recipient"`
	Name              string  `json:"name"`
	WalletID          string  `json:"wallet_id,omitempty"`
	Percentage        float64 `json:"percentage"`
	Amount            float64 `json:"amount"`
	NeedsGatewaySplit bool    `json:"needs_gateway_split"`
}

// Recipient is an explicit recipient supplied to CalculateCustom.
type Recipient struct {
	Identifier string
	Name       string
	Percentage float64
	WalletID   string
}

// Wallets holds the payout targets known for the non-platform recipients.
type Wallets struct {
	Partner   string
	Affiliate string
}

// DropPolicy decides what happens to the percentage of a recipient that is
// skipped for lack of a payout target.
type DropPolicy int

const (
	// PolicyDrop leaves the skipped percentage unassigned; the gateway
	// routes un-split funds to the platform account implicitly.
	PolicyDrop DropPolicy = iota
	// PolicyRedistribute folds the skipped percentage into the platform
	// entry so the computed entries always cover the full amount.
	PolicyRedistribute
)

type templateEntry struct {
	identifier string
	name       string
	percentage float64
}

// Fixed revenue-sharing rules per service category. Each template sums to 100.
var templates = map[ServiceType][]templateEntry{
	ServiceMembership: {
		{PlatformRecipient, "COMADEMIG", 40},
		{PartnerRecipient, "RENUM", 40},
		{AffiliateRecipient, "Afiliado", 20},
	},
	ServiceServices: {
		{PlatformRecipient, "COMADEMIG", 60},
		{PartnerRecipient, "RENUM", 40},
	},
	ServiceAdvertising: {
		{PlatformRecipient, "COMADEMIG", 100},
	},
	ServiceEvents: {
		{PlatformRecipient, "COMADEMIG", 70},
		{PartnerRecipient, "RENUM", 30},
	},
	ServiceOther: {
		{PlatformRecipient, "COMADEMIG", 100},
	},
}

// ErrUnknownServiceType indicates the service type has no split template.
var ErrUnknownServiceType = errors.New("unknown service type")

// ErrNoEntries indicates a validation call over an empty split set.
var ErrNoEntries = errors.New("no split entries computed")

// InvalidSplitError reports which invariant a split set violates, with the
// expected and actual values.
type InvalidSplitError struct {
	Invariant string
	Expected  float64
	Actual    float64
	Recipient string
}

func (e *InvalidSplitError) Error() string {
	if e.Recipient != "" {
		return fmt.Sprintf("split invariant %q violated for recipient %s", e.Invariant, e.Recipient)
	}
	return fmt.Sprintf("split invariant %q violated: expected %.2f, got %.2f", e.Invariant, e.Expected, e.Actual)
}

// Calculate partitions totalValue according to the template for serviceType.
// Recipients whose payout target is missing are skipped under PolicyDrop.
func Calculate(totalValue float64, serviceType ServiceType, wallets Wallets) ([]Entry, error) {
	return CalculateWithPolicy(totalValue, serviceType, wallets, PolicyDrop)
}

// CalculateWithPolicy is Calculate with an explicit skipped-share policy.
func CalculateWithPolicy(totalValue float64, serviceType ServiceType, wallets Wallets, policy DropPolicy) ([]Entry, error) {
	template, ok := templates[serviceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownServiceType, serviceType)
	}
	if totalValue <= 0 {
		return nil, fmt.Errorf("total value must be positive, got %.2f", totalValue)
	}

	kept := make([]templateEntry, 0, len(template))
	dropped := 0.0
	for _, t := range template {
		if walletFor(t.identifier, "", wallets) == "" && t.identifier != PlatformRecipient {
			dropped += t.percentage
			continue
		}
		kept = append(kept, t)
	}

	if policy == PolicyRedistribute && dropped > 0 {
		for i := range kept {
			if kept[i].identifier == PlatformRecipient {
				kept[i].percentage += dropped
				dropped = 0
				break
			}
		}
		if dropped > 0 {
			// Template without a platform entry cannot absorb the remainder.
			kept = append(kept, templateEntry{PlatformRecipient, "COMADEMIG", dropped})
		}
	}

	entries := make([]Entry, 0, len(kept))
	for _, t := range kept {
		entries = append(entries, Entry{
			Recipient:         t.identifier,
			Name:              t.name,
			WalletID:          walletFor(t.identifier, "", wallets),
			Percentage:        t.percentage,
			Amount:            share(totalValue, t.percentage),
			NeedsGatewaySplit: t.identifier != PlatformRecipient,
		})
	}
	return entries, nil
}

// CalculateCustom partitions totalValue across an explicit recipient list.
// The percentages must sum to 100 before any amount is computed.
func CalculateCustom(totalValue float64, recipients []Recipient, wallets Wallets) ([]Entry, error) {
	if totalValue <= 0 {
		return nil, fmt.Errorf("total value must be positive, got %.2f", totalValue)
	}

	sum := decimal.Zero
	for _, r := range recipients {
		sum = sum.Add(decimal.NewFromFloat(r.Percentage))
	}
	if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(decimal.NewFromFloat(Tolerance)) {
		return nil, &InvalidSplitError{
			Invariant: "percentages sum to 100",
			Expected:  100,
			Actual:    sum.InexactFloat64(),
		}
	}

	entries := make([]Entry, 0, len(recipients))
	for _, r := range recipients {
		wallet := walletFor(r.Identifier, r.WalletID, wallets)
		if wallet == "" && r.Identifier != PlatformRecipient {
			// Recipient needs a gateway split but has nowhere to pay out.
			continue
		}
		entries = append(entries, Entry{
			Recipient:         r.Identifier,
			Name:              r.Name,
			WalletID:          wallet,
			Percentage:        r.Percentage,
			Amount:            share(totalValue, r.Percentage),
			NeedsGatewaySplit: r.Identifier != PlatformRecipient,
		})
	}
	return entries, nil
}

// Validate is the correctness gate before a split configuration reaches the
// gateway: amounts must sum to the total, percentages to 100, and every entry
// requiring a gateway split must carry a payout target.
func Validate(entries []Entry, totalValue float64) error {
	if len(entries) == 0 {
		return ErrNoEntries
	}

	amountSum := decimal.Zero
	pctSum := decimal.Zero
	for _, e := range entries {
		amountSum = amountSum.Add(decimal.NewFromFloat(e.Amount))
		pctSum = pctSum.Add(decimal.NewFromFloat(e.Percentage))
	}

	tolerance := decimal.NewFromFloat(Tolerance)
	if amountSum.Sub(decimal.NewFromFloat(totalValue)).Abs().GreaterThan(tolerance) {
		return &InvalidSplitError{
			Invariant: "amounts sum to total",
			Expected:  totalValue,
			Actual:    amountSum.InexactFloat64(),
		}
	}
	if pctSum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(tolerance) {
		return &InvalidSplitError{
			Invariant: "percentages sum to 100",
			Expected:  100,
			Actual:    pctSum.InexactFloat64(),
		}
	}
	for _, e := range entries {
		if e.NeedsGatewaySplit && e.WalletID == "" {
			return &InvalidSplitError{
				Invariant: "gateway split has wallet",
				Recipient: e.Recipient,
			}
		}
	}
	return nil
}

// AllocatedTotal sums the amounts of the computed entries. Under PolicyDrop
// this may be less than the charge total.
func AllocatedTotal(entries []Entry) float64 {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(decimal.NewFromFloat(e.Amount))
	}
	return sum.InexactFloat64()
}

// GatewayEntries filters the entries that must be configured on the gateway.
func GatewayEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.NeedsGatewaySplit {
			out = append(out, e)
		}
	}
	return out
}

// share rounds totalValue*pct/100 to the currency's minor unit, half-up.
func share(totalValue, pct float64) float64 {
	return decimal.NewFromFloat(totalValue).
		Mul(decimal.NewFromFloat(pct)).
		Div(decimal.NewFromInt(100)).
		Round(2).
		InexactFloat64()
}

func walletFor(identifier, own string, wallets Wallets) string {
	switch identifier {
	case PlatformRecipient:
		return ""
	case PartnerRecipient:
		if wallets.Partner != "" {
			return wallets.Partner
		}
	case AffiliateRecipient:
		if wallets.Affiliate != "" {
			return wallets.Affiliate
		}
		return ""
	}
	return own
}
