package mpesa

import "github.com/shopspring/decimal"

// Category is the price tier a payment must meet, derived from the
// valentine template being unlocked.
type Category string

const (
	CategoryBasic  Category = "basic"
	CategoryLetter Category = "letter"
	CategoryPoem   Category = "poem"
)

// PriceTable maps a category to the minimum accepted amount in Ksh.
type PriceTable map[Category]decimal.Decimal

// DefaultPrices returns the standard tier prices.
func DefaultPrices() PriceTable {
	return PriceTable{
		CategoryBasic:  decimal.NewFromInt(250),
		CategoryLetter: decimal.NewFromInt(350),
		CategoryPoem:   decimal.NewFromInt(500),
	}
}

// For returns the required price for a category. Unknown categories fall
// back to the basic tier so a new template can never price itself at zero.
func (t PriceTable) For(category Category) decimal.Decimal {
	if price, ok := t[category]; ok {
		return price
	}
	return t[CategoryBasic]
}
