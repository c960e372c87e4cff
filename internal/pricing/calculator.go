// Package pricing computes order money: line totals, shipping, tax and the
// grand total. All amounts are decimals rounded half-up to cents.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

const centsPlaces = 2

var gramsPerKg = decimal.NewFromInt(1000)

// Rates is the shipping and tax table the calculator quotes against.
type Rates struct {
	DomesticCountry       string
	DomesticBaseRate      decimal.Decimal
	InternationalBaseRate decimal.Decimal
	PerKgRate             decimal.Decimal
	StateTaxRates         map[string]decimal.Decimal
}

func DefaultRates() Rates {
	return Rates{
		DomesticCountry:       "USA",
		DomesticBaseRate:      decimal.RequireFromString("5.99"),
		InternationalBaseRate: decimal.RequireFromString("15.99"),
		PerKgRate:             decimal.RequireFromString("2.00"),
		StateTaxRates: map[string]decimal.Decimal{
			"CA": decimal.RequireFromString("0.0725"),
			"NY": decimal.RequireFromString("0.04"),
			"TX": decimal.RequireFromString("0.0625"),
		},
	}
}

// Line is one priced position of a cart. WeightGrams is per unit and only
// matters for physical goods.
type Line struct {
	UnitPrice   decimal.Decimal
	Quantity    int
	WeightGrams decimal.Decimal
}

type Destination struct {
	State   string
	Country string
}

type Quote struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	ShippingFee decimal.Decimal `json:"shipping_fee"`
	Tax         decimal.Decimal `json:"tax"`
	Total       decimal.Decimal `json:"total"`
}

type Calculator struct {
	rates Rates
}

func NewCalculator(rates Rates) *Calculator {
	normalized := make(map[string]decimal.Decimal, len(rates.StateTaxRates))
	for state, rate := range rates.StateTaxRates {
		normalized[normalizeCode(state)] = rate
	}
	rates.StateTaxRates = normalized
	rates.DomesticCountry = normalizeCode(rates.DomesticCountry)

	return &Calculator{rates: rates}
}

// Round rounds half-up to cents. Amounts are never negative, so shopspring's
// half-away-from-zero rounding is the same thing.
func Round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(centsPlaces)
}

func (c *Calculator) LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return Round(unitPrice.Mul(decimal.NewFromInt(int64(quantity))))
}

// ShippingFee is the base rate for the destination country plus the per-kg
// rate for every started kilogram.
func (c *Calculator) ShippingFee(weightGrams decimal.Decimal, country string) decimal.Decimal {
	base := c.rates.InternationalBaseRate
	if c.isDomestic(country) {
		base = c.rates.DomesticBaseRate
	}

	kilos := weightGrams.Div(gramsPerKg).Ceil()
	if kilos.IsNegative() {
		kilos = decimal.Zero
	}

	return Round(base.Add(kilos.Mul(c.rates.PerKgRate)))
}

// TaxRate returns zero for states outside the table.
func (c *Calculator) TaxRate(state string) decimal.Decimal {
	rate, ok := c.rates.StateTaxRates[normalizeCode(state)]
	if !ok {
		return decimal.Zero
	}
	return rate
}

func (c *Calculator) Tax(subtotal decimal.Decimal, state string) decimal.Decimal {
	return Round(subtotal.Mul(c.TaxRate(state)))
}

// Quote prices a cart. Shipping is charged only when the cart holds physical
// goods and a destination is known; tax only when a destination is known.
func (c *Calculator) Quote(goods, tickets []Line, dest *Destination) Quote {
	subtotal := decimal.Zero
	weight := decimal.Zero

	for _, line := range goods {
		subtotal = subtotal.Add(c.LineTotal(line.UnitPrice, line.Quantity))
		weight = weight.Add(line.WeightGrams.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	for _, line := range tickets {
		subtotal = subtotal.Add(c.LineTotal(line.UnitPrice, line.Quantity))
	}

	q := Quote{
		Subtotal:    Round(subtotal),
		ShippingFee: decimal.Zero,
		Tax:         decimal.Zero,
	}

	if dest != nil {
		if len(goods) > 0 {
			q.ShippingFee = c.ShippingFee(weight, dest.Country)
		}
		q.Tax = c.Tax(q.Subtotal, dest.State)
	}

	q.Total = Round(q.Subtotal.Add(q.ShippingFee).Add(q.Tax))

	return q
}

func (c *Calculator) isDomestic(country string) bool {
	country = normalizeCode(country)
	return country == "" || country == c.rates.DomesticCountry
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
