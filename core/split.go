package core

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	ErrPercentageModelRequired = errors.New("core: split set carries no percentage entries")
	ErrSplitSumInvalid         = errors.New("core: split percentages must sum to 100")
	ErrNoRecipients            = errors.New("core: split set has no resolvable recipients")
	ErrConservationViolated    = errors.New("core: currency conservation violated")
)

const (
	// percentDenominatorBP is 100% expressed in basis points. All share
	// arithmetic is integer arithmetic over basis points; float percentages
	// only exist at the API boundary.
	percentDenominatorBP int64 = 10_000

	// splitSumToleranceBP is the accepted deviation of a split set's total
	// from 100%, matching the documented ±0.01 tolerance.
	splitSumToleranceBP int64 = 1

	// DefaultPlatformFeeBP is the 5% platform fee.
	DefaultPlatformFeeBP int64 = 500
)

// SplitShare is one calculator input entry. Percent is expressed in [0,100]
// and converted to basis points before any arithmetic.
type SplitShare struct {
	RecipientID string
	Label       string
	Percent     float64
}

func (s SplitShare) percentBP() int64 {
	return int64(math.Round(s.Percent * 100))
}

// BreakdownLine is one recipient's computed allocation. NetAmount is exact
// under the floor-plus-residual scheme; GrossShare and FeeShare are
// informational, half-up rounded attributions.
type BreakdownLine struct {
	RecipientID string
	PercentBP   int64
	GrossShare  int64
	FeeShare    int64
	TaxWithheld int64
	NetAmount   int64
}

// Breakdown is the result of a split calculation. Distributed always equals
// the sum of line net amounts; Withheld is non-zero only under the withhold
// policy when placeholder percentages were removed from the input.
type Breakdown struct {
	GrossAmount int64
	Currency    string
	PlatformFee int64
	NetPool     int64
	Distributed int64
	Withheld    int64
	Lines       []BreakdownLine
}

// SplitPolicy decides what happens to the percentage share of placeholder
// entries that are filtered out before payout scheduling.
type SplitPolicy string

const (
	// SplitPolicyWithhold keeps the placeholder share undistributed: every
	// resolvable recipient is paid its original percentage of the net pool
	// and the remainder stays with the platform.
	SplitPolicyWithhold SplitPolicy = "withhold"

	// SplitPolicyRenormalize scales the remaining percentages back up to
	// 100% so that the full net pool is distributed.
	SplitPolicyRenormalize SplitPolicy = "renormalize"
)

func (p SplitPolicy) Validate() error {
	switch p {
	case SplitPolicyWithhold, SplitPolicyRenormalize:
		return nil
	}
	return fmt.Errorf("core: unknown split policy %q", p)
}

// SplitCalculator turns a gross amount and a percentage split set into a
// per-recipient breakdown. It is a pure value: no I/O, deterministic for a
// given input, safe to call repeatedly.
type SplitCalculator struct {
	// FeeBP is the platform fee in basis points.
	FeeBP int64
}

func NewSplitCalculator(feeBP int64) SplitCalculator {
	if feeBP < 0 || feeBP > percentDenominatorBP {
		feeBP = DefaultPlatformFeeBP
	}
	return SplitCalculator{FeeBP: feeBP}
}

// Calculate computes the breakdown for a complete split set. The percentage
// entries must sum to 100 within ±0.01; the result conserves currency
// exactly: sum of net amounts equals gross minus platform fee.
func (c SplitCalculator) Calculate(gross int64, currency string, splits []SplitShare) (Breakdown, error) {
	return c.calculate(gross, currency, splits, SplitPolicyRenormalize, true)
}

// CalculateFiltered computes the breakdown for a split set that already had
// its placeholder entries removed. Under the withhold policy the removed
// percentage stays undistributed; under renormalize the remaining entries are
// scaled back up to the full net pool. totalBP is the percentage total of the
// original, unfiltered set and is validated against 100% ±0.01.
func (c SplitCalculator) CalculateFiltered(
	gross int64,
	currency string,
	splits []SplitShare,
	policy SplitPolicy,
	totalBP int64,
) (Breakdown, error) {
	if err := policy.Validate(); err != nil {
		return Breakdown{}, err
	}
	if delta := totalBP - percentDenominatorBP; delta > splitSumToleranceBP || delta < -splitSumToleranceBP {
		return Breakdown{}, fmt.Errorf(
			"%w: full set sums to %s%%", ErrSplitSumInvalid, formatBP(totalBP),
		)
	}
	return c.calculate(gross, currency, splits, policy, false)
}

func (c SplitCalculator) calculate(
	gross int64,
	currency string,
	splits []SplitShare,
	policy SplitPolicy,
	strictSum bool,
) (Breakdown, error) {
	if gross <= 0 {
		return Breakdown{}, fmt.Errorf("core: gross amount must be positive, got %d", gross)
	}
	money := NewMoney(gross, currency)
	if err := money.Validate(); err != nil {
		return Breakdown{}, err
	}

	entries := make([]splitEntry, 0, len(splits))
	var sumBP int64
	for i, share := range splits {
		bp := share.percentBP()
		if bp < 0 || bp > percentDenominatorBP {
			return Breakdown{}, fmt.Errorf(
				"core: split %d percentage %s%% out of range", i, formatBP(bp),
			)
		}
		if bp == 0 {
			continue
		}
		entries = append(entries, splitEntry{
			recipientID: strings.TrimSpace(share.RecipientID),
			bp:          bp,
		})
		sumBP += bp
	}
	if len(entries) == 0 {
		return Breakdown{}, ErrPercentageModelRequired
	}
	if strictSum {
		if delta := sumBP - percentDenominatorBP; delta > splitSumToleranceBP || delta < -splitSumToleranceBP {
			return Breakdown{}, fmt.Errorf("%w: got %s%%", ErrSplitSumInvalid, formatBP(sumBP))
		}
	}

	fee := roundHalfUpDiv(gross*c.FeeBP, percentDenominatorBP)
	netPool := gross - fee

	// The denominator decides the share base: the full 100% under withhold
	// (placeholder percentages stay with the platform), the filtered total
	// under renormalize (the pool is fully redistributed). Calculate always
	// uses the set's own total, which strictSum pinned to 100% ±0.01; using
	// it directly keeps conservation exact even at 99.99% or 100.01%.
	denomBP := percentDenominatorBP
	if policy == SplitPolicyRenormalize {
		denomBP = sumBP
	}

	// Largest Remainder (Hamilton): floor every exact share, then hand one
	// minor unit to each of the largest fractional remainders until the
	// distributable total is reached.
	var flooredTotal int64
	for i := range entries {
		scaled := netPool * entries[i].bp
		entries[i].floor = scaled / denomBP
		entries[i].remainder = scaled % denomBP
		flooredTotal += entries[i].floor
	}
	target := netPool
	if policy == SplitPolicyWithhold {
		target = netPool * sumBP / denomBP
	}
	residual := target - flooredTotal
	if residual < 0 || residual > int64(len(entries)) {
		return Breakdown{}, fmt.Errorf(
			"%w: residual %d outside [0,%d]", ErrConservationViolated, residual, len(entries),
		)
	}

	byRemainder := make([]*splitEntry, len(entries))
	for i := range entries {
		byRemainder[i] = &entries[i]
	}
	sort.SliceStable(byRemainder, func(a, b int) bool {
		return byRemainder[a].remainder > byRemainder[b].remainder
	})
	for i := int64(0); i < residual; i++ {
		byRemainder[i].extra = 1
	}

	out := Breakdown{
		GrossAmount: gross,
		Currency:    money.Currency,
		PlatformFee: fee,
		NetPool:     netPool,
		Withheld:    netPool - target,
		Lines:       make([]BreakdownLine, 0, len(entries)),
	}
	for _, entry := range entries {
		net := entry.floor + entry.extra
		out.Distributed += net
		out.Lines = append(out.Lines, BreakdownLine{
			RecipientID: entry.recipientID,
			PercentBP:   entry.bp,
			GrossShare:  roundHalfUpDiv(gross*entry.bp, denomBP),
			FeeShare:    roundHalfUpDiv(fee*entry.bp, denomBP),
			TaxWithheld: 0,
			NetAmount:   net,
		})
	}

	// A conservation mismatch here is a programming defect, never data: the
	// caller must treat it as fatal and abort the surrounding operation.
	if out.Distributed != target || out.Distributed+out.Withheld != netPool {
		return Breakdown{}, fmt.Errorf(
			"%w: distributed %d, target %d, pool %d",
			ErrConservationViolated, out.Distributed, target, netPool,
		)
	}
	return out, nil
}

type splitEntry struct {
	recipientID string
	bp          int64
	floor       int64
	remainder   int64
	extra       int64
}

// roundHalfUpDiv divides num by den rounding half away from zero. Inputs are
// non-negative in every call site.
func roundHalfUpDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	return (num + den/2) / den
}

func formatBP(bp int64) string {
	whole := bp / 100
	frac := bp % 100
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%02d", whole, frac)
}
