package coins

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var ErrMalformedWei = errors.New("coins: malformed wei amount")

var weiPerCredit = new(big.Int).Exp(big.NewInt(10), big.NewInt(WeiPerDollarExponent-CreditPerDollarExponent), nil)

// WeiDepositStringToCoinsInt converts a decimal wei amount to credit. The
// division truncates: any remainder smaller than one credit is never credited.
func WeiDepositStringToCoinsInt(weiString string) (Int, error) {
	s := strings.TrimSpace(weiString)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformedWei)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedWei, weiString)
		}
	}
	wei, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMalformedWei, weiString)
	}
	credit := new(big.Int).Quo(wei, weiPerCredit)
	if !credit.IsUint64() || Int(credit.Uint64()) > MaxCoins {
		return 0, fmt.Errorf("%w: %s wei exceeds max coins", ErrMalformedWei, s)
	}
	return Int(credit.Uint64()), nil
}

// CoinsIntToWeiDepositString converts credit to wei. The multiplication is
// exact, so a withdrawal pays out exactly the credit debited.
func CoinsIntToWeiDepositString(amount Int) string {
	wei := new(big.Int).SetUint64(uint64(amount))
	return wei.Mul(wei, weiPerCredit).String()
}
