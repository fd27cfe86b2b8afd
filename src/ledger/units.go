package ledger

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a whole-unit amount to integer base units, truncating
// anything below the token's precision.
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

func FromBaseUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
