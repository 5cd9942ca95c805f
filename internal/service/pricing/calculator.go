// internal/service/pricing/calculator.go
package pricing

import (
	"time"

	"inspecto-service/internal/domain/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Period is the part of a subscriber's current membership that proration
// needs, plus the minor-unit price of the plan it is on.
type Period struct {
	PlanID         uuid.UUID
	IsActive       bool
	StartDate      time.Time
	EndDate        *time.Time
	PlanPriceMinor int64
}

// Calculator computes what a subscriber owes. It does no I/O and never fails:
// out-of-range inputs contribute zero.
type Calculator struct {
	now func() time.Time
}

func NewCalculator() *Calculator {
	return &Calculator{now: time.Now}
}

// WithClock replaces the time source.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Prorate returns the unused share of the current period's price, rounded
// down. Zero when there is nothing to credit.
func (c *Calculator) Prorate(current *Period, newPlanID uuid.UUID) int64 {
	if current == nil || !current.IsActive || current.EndDate == nil {
		return 0
	}
	if current.PlanID == newPlanID {
		return 0
	}

	now := c.now()
	start, end := current.StartDate, *current.EndDate
	if !now.Before(end) || !end.After(start) || current.PlanPriceMinor <= 0 {
		return 0
	}

	total := end.Sub(start)
	remaining := end.Sub(now)
	if remaining > total {
		// period has not started yet; credit at most the full price
		remaining = total
	}

	return floorDiv(
		decimal.NewFromInt(int64(remaining)).Mul(decimal.NewFromInt(current.PlanPriceMinor)),
		decimal.NewFromInt(int64(total)),
	)
}

// Discount applies d to amount.
func Discount(amount int64, d payment.Discount) int64 {
	if amount <= 0 || !d.Value.IsPositive() {
		return 0
	}

	var off int64
	switch d.Kind {
	case payment.KindPercentage:
		if d.Value.GreaterThan(hundred) {
			return 0
		}
		off = floorDiv(decimal.NewFromInt(amount).Mul(d.Value), hundred)
	case payment.KindFixed:
		off = minInt(d.Value.Floor().IntPart(), amount)
	}

	return clamp(off, d.Cap)
}

// Tax computes the tax on amount. Inclusive percentages back the tax out of
// an amount that already contains it.
func Tax(amount int64, t payment.Tax) int64 {
	if amount <= 0 || !t.Value.IsPositive() {
		return 0
	}

	var tax int64
	switch t.Kind {
	case payment.KindPercentage:
		if t.Value.GreaterThan(hundred) {
			return 0
		}
		a := decimal.NewFromInt(amount)
		if t.Inclusive {
			// amount - amount/(1+v/100) == amount*v/(100+v)
			tax = floorDiv(a.Mul(t.Value), hundred.Add(t.Value))
		} else {
			tax = floorDiv(a.Mul(t.Value), hundred)
		}
	case payment.KindFixed:
		tax = minInt(t.Value.Floor().IntPart(), amount)
	}

	return clamp(tax, t.Cap)
}

// Insurance is an add-on hook. Nothing is charged today.
func Insurance(amount int64) int64 {
	return 0
}

// NetPayable applies proration, then discount, then tax. The order changes
// the amount owed.
func (c *Calculator) NetPayable(basePriceMinor int64, discount *payment.Discount, tax *payment.Tax, current *Period, newPlanID uuid.UUID) payment.BillingSummary {
	proration := c.Prorate(current, newPlanID)
	effectiveBase := max(0, basePriceMinor-proration)

	var discountAmount int64
	if discount != nil {
		discountAmount = Discount(effectiveBase, *discount)
	}
	subtotal := max(0, effectiveBase-discountAmount)

	var taxAmount int64
	if tax != nil {
		taxAmount = Tax(subtotal, *tax)
	}
	insurance := Insurance(subtotal)

	return payment.BillingSummary{
		Base:       basePriceMinor,
		Proration:  proration,
		Discount:   discountAmount,
		Tax:        taxAmount,
		Insurance:  insurance,
		NetPayable: max(0, subtotal+taxAmount+insurance),
	}
}

// floorDiv returns floor(num/den) for non-negative operands without any
// intermediate rounding.
func floorDiv(num, den decimal.Decimal) int64 {
	q, _ := num.QuoRem(den, 0)
	return q.IntPart()
}

func minInt(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func clamp(v int64, cap *int64) int64 {
	if cap != nil && v > *cap {
		v = *cap
	}
	return max(0, v)
}
